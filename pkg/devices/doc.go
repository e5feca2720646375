// Package devices provides backend device drivers and the registry that
// resolves them by array system type.
//
// The Simulator accepts every export request without contacting an array and
// completes the task handle before returning. Failures can be injected per
// operation, either through the handle (FailOn) or as a rejected request
// (RejectOn).
package devices
