package engine

import (
	"encoding/json"
	"fmt"
)

// Method describes a deferred invocation: an operation name plus its ordered
// arguments. Arguments are JSON encoded so a method can be persisted and
// executed by another process.
type Method struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args"`
}

// NewMethod builds a method descriptor, encoding each argument in order.
func NewMethod(name string, args ...interface{}) (Method, error) {
	if name == "" {
		return Method{}, NewPermanentError("method name is required", nil).WithCode(ErrCodeValidation)
	}

	m := Method{Name: name, Args: make([]json.RawMessage, 0, len(args))}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Method{}, fmt.Errorf("failed to encode argument %d of %s: %w", i, name, err)
		}
		m.Args = append(m.Args, raw)
	}
	return m, nil
}

// NumArgs returns the number of arguments.
func (m Method) NumArgs() int {
	return len(m.Args)
}

// Arg decodes argument i into target.
func (m Method) Arg(i int, target interface{}) error {
	if i < 0 || i >= len(m.Args) {
		return NewPermanentError(
			fmt.Sprintf("method %s has %d arguments, argument %d requested", m.Name, len(m.Args), i), nil).
			WithCode(ErrCodeValidation)
	}
	if err := json.Unmarshal(m.Args[i], target); err != nil {
		return fmt.Errorf("failed to decode argument %d of %s: %w", i, m.Name, err)
	}
	return nil
}

// String returns the method name and arity.
func (m Method) String() string {
	return fmt.Sprintf("%s/%d", m.Name, len(m.Args))
}
