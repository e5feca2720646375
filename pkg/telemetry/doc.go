// Package telemetry provides observability instrumentation for xbzone.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for following port selection, zoning and export mask workflows.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("exportmask")
//	logger = logger.WithStepID(stepID).WithMask(arrayID, maskID)
//	logger.Info("Adding volumes to export mask")
//
// Packages that only need a zerolog.Logger take it from Logger.Zerolog.
//
// # Step Instrumentation
//
// The workflow dispatcher wraps every step:
//
//	ctx = telemetry.WithStepContext(ctx, workflowID, stepID, method.Name)
//	defer telemetry.EndStepContext(ctx, workflowID, stepID, method.Name, status, err)
//
// Device driver calls are wrapped with RecordDeviceOperation, which opens a
// span and counts the call and its failures.
//
// # Metrics
//
// Exposed metrics (namespace xbzone):
//
//   - port_groups_selected_total{result}
//   - ports_selected
//   - zoning_assignments_total{director}
//   - zoning_gaps_total{network}
//   - steps_total{operation,status}
//   - step_duration_seconds{operation}
//   - active_steps
//   - lock_wait_seconds{class}
//   - device_calls_total{operation}
//   - device_errors_total{operation}
//   - errors_by_class_total{class}
//   - errors_by_code_total{code}
//
// All Metrics methods are no-ops when metrics are disabled.
//
// # Events
//
// Step transitions, assignment gaps, mask deletions and policy violations are
// published as events. Subscribers receive them asynchronously:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeAssignmentGap))
package telemetry
