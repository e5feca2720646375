package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{
			name: "plain",
			err:  NewTransientError("array busy", fmt.Errorf("timeout")),
			want: "[transient] array busy: timeout",
		},
		{
			name: "with resource",
			err:  NewPermanentError("mask missing", nil).WithResource("mask-1"),
			want: "[permanent] mask missing (resource=mask-1): ",
		},
		{
			name: "with resource and operation",
			err:  NewConflictError("locked", nil).WithResource("s1").WithOperation("acquire"),
			want: "[conflict] locked (resource=s1, operation=acquire): ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("step failed: %w", NewThrottledError("slow down", nil))

	if !IsThrottled(wrapped) || !IsRetryable(wrapped) {
		t.Error("expected wrapped throttled error to be retryable")
	}
	if IsPermanent(wrapped) || IsTransient(wrapped) || IsConflict(wrapped) {
		t.Error("unexpected classification")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !IsRetryable(NewLockTimeoutError("s1", nil, nil)) {
		t.Error("lock timeouts are conflicts and retryable")
	}
}

func TestEngineError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewBackendExportMaskDeletedError("create_or_add_volumes", "mask-1", "array-1"))
	target := &EngineError{Class: ErrorClassPermanent, Code: ErrCodeBackendExportMaskDeleted}
	if !errors.Is(err, target) {
		t.Error("expected errors.Is to match class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound}) {
		t.Error("expected mismatch on code")
	}
}

func TestHasCode_WalksChain(t *testing.T) {
	inner := NewBackendExportMaskDeletedError("create_or_add_volumes", "mask-1", "array-1")
	outer := NewDeviceOperationError("create_or_add_volumes", "array-1", "mask-1", fmt.Errorf("persist: %w", inner))

	if !HasCode(outer, ErrCodeDeviceOperationFailed) {
		t.Error("expected outer code")
	}
	if !IsBackendExportMaskDeleted(outer) {
		t.Error("expected inner code to be found through the chain")
	}
	if HasCode(outer, ErrCodeLockTimeout) {
		t.Error("unexpected code")
	}
	if HasCode(nil, ErrCodeInternal) {
		t.Error("nil has no code")
	}
}

func TestDomainErrors(t *testing.T) {
	deleted := NewBackendExportMaskDeletedError("create_or_add_volumes", "mask-1", "array-1")
	if deleted.Class != ErrorClassPermanent || deleted.Resource != "mask-1" {
		t.Errorf("unexpected error %+v", deleted)
	}
	if deleted.Details[DetailArrayID] != "array-1" || deleted.Details[DetailMaskID] != "mask-1" {
		t.Errorf("unexpected details %v", deleted.Details)
	}
	if deleted.Operation != "create_or_add_volumes" || deleted.Details[DetailOperation] != "create_or_add_volumes" {
		t.Errorf("expected operation on precondition failure, got %q %v", deleted.Operation, deleted.Details)
	}

	dev := NewDeviceOperationError("op", "array-1", "", errors.New("boom"))
	if dev.Resource != "" || dev.Details[DetailOperation] != "op" {
		t.Errorf("unexpected device error %+v", dev)
	}
	if _, ok := dev.Details[DetailMaskID]; ok {
		t.Error("mask detail should be omitted without a mask")
	}
	if !strings.Contains(dev.Error(), "boom") {
		t.Errorf("expected cause in message, got %q", dev.Error())
	}

	lock := NewLockTimeoutError("s1", []string{"k"}, nil)
	if !IsLockTimeout(lock) || lock.Class != ErrorClassConflict {
		t.Errorf("unexpected lock error %+v", lock)
	}

	if !IsNotFound(NewNotFoundError("mask", "m")) {
		t.Error("expected not found")
	}
}
