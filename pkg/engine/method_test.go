package engine

import (
	"encoding/json"
	"testing"
)

func TestMethod(t *testing.T) {
	m, err := NewMethod("createOrAddVolumesToExportMask", "array-1", "mask-1", VolumeMap{"v1": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.NumArgs() != 3 || m.String() != "createOrAddVolumesToExportMask/3" {
		t.Errorf("unexpected method %s", m)
	}

	var volumes VolumeMap
	if err := m.Arg(2, &volumes); err != nil || volumes["v1"] != 1 {
		t.Errorf("failed to decode volumes: %v %v", volumes, err)
	}

	var id int
	if err := m.Arg(0, &id); err == nil {
		t.Error("expected decode error for wrong type")
	}
	if err := m.Arg(3, &id); !HasCode(err, ErrCodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestMethod_RoundTrip(t *testing.T) {
	m, _ := NewMethod("deleteOrRemoveVolumesFromExportMask", "array-1", []string{"v1", "v2"})

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Method
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	var ids []string
	if err := decoded.Arg(1, &ids); err != nil || len(ids) != 2 {
		t.Errorf("unexpected args %v %v", ids, err)
	}
}

func TestNewMethod_Errors(t *testing.T) {
	if _, err := NewMethod(""); !HasCode(err, ErrCodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := NewMethod("bad", make(chan int)); err == nil {
		t.Error("expected encode error")
	}
}
