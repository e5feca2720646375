// Package placement chooses the array ports a virtualization appliance uses
// and zones its directors onto them.
//
// XtremIOSelector builds one port group per array. Each selection pass picks
// at most MaxPortsPerSet ports, walking networks from fewest to most
// candidates and preferring an enclosure no network has used yet. A pass that
// cannot reach MinPortsPerSet ends the selection.
//
// DirectorZoningAssigner then gives every director one port set per network
// and assigns each initiator a port from it, up to PathsPerDirector. Initiators
// that get nothing are reported as gaps.
//
// MaskingOrchestrator ties both together behind a registry keyed by array type:
//
//	o := placement.NewMaskingOrchestrator(logger)
//	o.Register(placement.SystemTypeXtremIO, placement.NewXtremIOStrategy(logger, 0, 0))
//	plan, err := o.Plan(ctx, req)
package placement
