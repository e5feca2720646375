package workflow

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// RecordType identifies a line of a workflow stream.
type RecordType string

const (
	// RecordTypeWorkflow carries the workflow header and opens a stream.
	RecordTypeWorkflow RecordType = "workflow"

	// RecordTypeStep carries one step definition.
	RecordTypeStep RecordType = "step"

	// RecordTypeStepRecord carries the tracked state of an executed step.
	RecordTypeStepRecord RecordType = "step_record"

	// RecordTypeResult carries the outcome of a dispatched workflow.
	RecordTypeResult RecordType = "result"
)

// Validate checks if the record type is known.
func (t RecordType) Validate() error {
	switch t {
	case RecordTypeWorkflow, RecordTypeStep, RecordTypeStepRecord, RecordTypeResult:
		return nil
	default:
		return fmt.Errorf("unknown record type: %q", t)
	}
}

// Record is one newline-delimited JSON line of a workflow stream.
type Record struct {
	Type      RecordType      `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// workflowHeader is the payload of a workflow record.
type workflowHeader struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// Encoder writes workflow streams to an io.Writer.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new workflow encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes a single record.
func (e *Encoder) Encode(recType RecordType, data interface{}) error {
	if err := recType.Validate(); err != nil {
		return err
	}

	var dataBytes []byte
	if data != nil {
		var err error
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	line, err := json.Marshal(Record{
		Type:      recType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// EncodeWorkflow writes the workflow header followed by one record per step.
func (e *Encoder) EncodeWorkflow(wf *Workflow) error {
	if err := e.Encode(RecordTypeWorkflow, workflowHeader{ID: wf.ID, Description: wf.Description}); err != nil {
		return err
	}
	for i := range wf.Steps {
		if err := e.Encode(RecordTypeStep, &wf.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// EncodeStepRecord writes the state of an executed step.
func (e *Encoder) EncodeStepRecord(rec *StepRecord) error {
	return e.Encode(RecordTypeStepRecord, rec)
}

// EncodeResult writes the outcome of a workflow.
func (e *Encoder) EncodeResult(res *Result) error {
	return e.Encode(RecordTypeResult, res)
}

// Decoder reads workflow streams from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new workflow decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	const maxCapacity = 10 * 1024 * 1024 // 10 MB
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)
	return &Decoder{r: scanner}
}

// Decode reads the next record. Blank lines are skipped. It returns io.EOF
// at the end of the stream.
func (d *Decoder) Decode() (*Record, error) {
	for d.r.Scan() {
		line := d.r.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		if err := rec.Type.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record: %w", err)
		}
		return &rec, nil
	}
	if err := d.r.Err(); err != nil {
		return nil, fmt.Errorf("scan error: %w", err)
	}
	return nil, io.EOF
}

// DecodeWorkflow reads a workflow header and its steps until the end of the
// stream. Step records and results are ignored.
func (d *Decoder) DecodeWorkflow() (*Workflow, error) {
	first, err := d.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty workflow stream")
		}
		return nil, err
	}
	if first.Type != RecordTypeWorkflow {
		return nil, fmt.Errorf("expected %s record, got %s", RecordTypeWorkflow, first.Type)
	}

	var header workflowHeader
	if err := json.Unmarshal(first.Data, &header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow header: %w", err)
	}
	wf := &Workflow{ID: header.ID, Description: header.Description}

	for {
		rec, err := d.Decode()
		if errors.Is(err, io.EOF) {
			return wf, nil
		}
		if err != nil {
			return nil, err
		}

		switch rec.Type {
		case RecordTypeStep:
			var step Step
			if err := json.Unmarshal(rec.Data, &step); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step %d: %w", len(wf.Steps)+1, err)
			}
			wf.AddStep(step)
		case RecordTypeWorkflow:
			return nil, fmt.Errorf("unexpected second %s record", RecordTypeWorkflow)
		}
	}
}
