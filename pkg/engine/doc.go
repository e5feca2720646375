// Package engine provides the core types and interfaces shared by the
// xbzone packages.
//
// # Overview
//
// xbzone provisions the backend side of a storage virtualization layer.
// Front-end directors reach a backend array through networks; each array
// exposes target ports tagged with the enclosure and controller that own
// them. Work happens in two phases:
//
//  1. Placement - choose a redundant, enclosure-diverse port group and
//     zone director initiators to it (package placement)
//  2. Export - create, grow, shrink and delete the export mask on the
//     array inside lock-protected workflow steps (packages workflow and
//     exportmask)
//
// # Core Domain Types
//
//   - StorageSystem, Network, StoragePort, Initiator: the topology
//   - PortGroupTag: the decoded "<enclosure>-<controller>" fault domain of a port
//   - PortSet, PortGroup: ports selected per network
//   - ZoningMap, InitiatorGroup: the zoning outcome and its input
//   - ExportMask, VolumeMap: the masking resource and its volumes
//   - Method: a named, JSON-encoded deferred invocation
//   - StepStatus, WorkflowStatus: the step and workflow lifecycles
//
// # Collaborators
//
// ObjectStore, LockService, StepTracker, TaskCompleter, DeviceDriver,
// DeviceRegistry and PortAssigner are the seams between the packages. The
// stores package implements ObjectStore and LockService on SQLite; the
// devices package provides a simulated DeviceDriver.
//
// # Error Handling
//
// Errors are EngineError values classified for retry logic:
//
//   - Transient: temporary failures that may succeed on retry
//   - Throttled: rate limits that need backoff
//   - Conflict: lock or version conflicts
//   - Permanent: failures retrying cannot fix
//
// Codes identify the domain failures: BACKEND_EXPORT_MASK_DELETED when a
// mask vanished or went inactive, DEVICE_OPERATION_FAILED for anything
// raised while driving the array, and LOCK_TIMEOUT when a step could not
// obtain its keys. HasCode inspects the whole chain:
//
//	if engine.IsBackendExportMaskDeleted(err) {
//	    // re-plan instead of retrying
//	}
package engine
