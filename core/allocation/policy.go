package allocation

import (
	"fmt"
	"strings"

	"github.com/kilianp07/fleetalloc/core/model"
)

// Policy decides what a batch of solves does when one of them fails.
type Policy int

const (
	// PolicyAbort stops the batch at the first solver failure.
	PolicyAbort Policy = iota
	// PolicyRecord keeps going and stores the failed point with its error.
	PolicyRecord
)

func (p Policy) String() string {
	if p == PolicyRecord {
		return "record"
	}
	return "abort"
}

// ParsePolicy parses "abort" or "record". An empty string selects
// PolicyAbort.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return PolicyAbort, nil
	case "record":
		return PolicyRecord, nil
	default:
		return PolicyAbort, model.NewValidationError("on_error", "unknown policy %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	*p = v
	return nil
}
