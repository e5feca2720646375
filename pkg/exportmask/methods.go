package exportmask

import (
	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

// Method names of the mutation entry points.
const (
	MethodCreateOrAddVolumes    = "createOrAddVolumesToExportMask"
	MethodDeleteOrRemoveVolumes = "deleteOrRemoveVolumesFromExportMask"
)

// CreateOrAddVolumesMethod packages a CreateOrAddVolumes call for deferred execution.
// Arguments: array ID, export mask ID, volume map, completer.
func CreateOrAddVolumesMethod(arrayID, maskID string, volumes engine.VolumeMap, completer CompleterSpec) (engine.Method, error) {
	return engine.NewMethod(MethodCreateOrAddVolumes, arrayID, maskID, volumes, completer)
}

// DeleteOrRemoveVolumesMethod packages a DeleteOrRemoveVolumes call for deferred execution.
// Arguments: array ID, export mask ID, volume IDs, completer.
func DeleteOrRemoveVolumesMethod(arrayID, maskID string, volumes []string, completer CompleterSpec) (engine.Method, error) {
	return engine.NewMethod(MethodDeleteOrRemoveVolumes, arrayID, maskID, volumes, completer)
}

// AddVolumesStep builds a step exporting volumes through the mask. Its
// rollback removes the same volumes again.
func AddVolumesStep(arrayID, maskID string, volumes engine.VolumeMap) (workflow.Step, error) {
	forward, err := CreateOrAddVolumesMethod(arrayID, maskID, volumes, CompleterSpec{
		Kind:         CompleterAddVolumes,
		ExportMaskID: maskID,
		Volumes:      volumes,
	})
	if err != nil {
		return workflow.Step{}, err
	}

	rollback, err := DeleteOrRemoveVolumesMethod(arrayID, maskID, volumes.IDs(), CompleterSpec{
		Kind:         CompleterRemoveVolumes,
		ExportMaskID: maskID,
		Volumes:      volumes,
		RollingBack:  true,
	})
	if err != nil {
		return workflow.Step{}, err
	}

	return workflow.Step{
		Description: "export volumes through mask " + maskID,
		Method:      forward,
		Rollback:    &rollback,
	}, nil
}

// RemoveVolumesStep builds a step removing volumes from the mask, deleting
// the mask once it exports nothing.
func RemoveVolumesStep(arrayID, maskID string, volumeIDs []string) (workflow.Step, error) {
	method, err := DeleteOrRemoveVolumesMethod(arrayID, maskID, volumeIDs, CompleterSpec{
		Kind:         CompleterRemoveVolumes,
		ExportMaskID: maskID,
		Volumes:      volumeSet(volumeIDs),
	})
	if err != nil {
		return workflow.Step{}, err
	}
	return workflow.Step{
		Description: "remove volumes from mask " + maskID,
		Method:      method,
	}, nil
}

// volumeSet turns volume IDs into a VolumeMap. HLUs are irrelevant on removal.
func volumeSet(ids []string) engine.VolumeMap {
	out := make(engine.VolumeMap, len(ids))
	for _, id := range ids {
		out[id] = 0
	}
	return out
}
