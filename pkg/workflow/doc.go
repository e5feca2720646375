// Package workflow runs method descriptors as tracked steps.
//
// A Dispatcher orders steps by their WaitFor dependencies and executes each
// level through a worker pool. Handlers report step outcomes to the Tracker,
// possibly after they return; the dispatcher waits for a terminal status and
// then releases every lock the step took from the LockManager. When a step
// fails, the rollback descriptors of succeeded steps run in reverse order,
// each under a fresh step ID.
//
// Workflows are persisted as newline-delimited JSON through Encoder and Decoder.
package workflow
