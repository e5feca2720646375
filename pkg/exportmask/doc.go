// Package exportmask mutates backend export masks as workflow steps.
//
// CreateOrAddVolumes creates a mask on the array the first time volumes are
// exported through it and adds volumes afterwards. DeleteOrRemoveVolumes
// removes volumes and deletes the mask when nothing else is exported through
// it. Both take the host/array lock keys of the mask's initiators before any
// change and leave their release to the step framework.
//
// Device drivers report outcomes through a Completer, which updates the mask
// document and then the step tracker. Method descriptors built by
// CreateOrAddVolumesMethod and DeleteOrRemoveVolumesMethod carry a
// CompleterSpec so a step can be serialized and executed later.
package exportmask
