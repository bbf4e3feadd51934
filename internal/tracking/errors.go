package tracking

import (
	"errors"
	"fmt"
)

// Kind classifies where a run failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInput is a problem with what the client sent.
	KindInput
	// KindInfrastructure is a local failure: workspace or upload storage.
	KindInfrastructure
	// KindPipeline is a failure reported by the tracking pipeline.
	KindPipeline
	// KindAggregation is unusable pipeline output.
	KindAggregation
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindInfrastructure:
		return "infrastructure"
	case KindPipeline:
		return "pipeline"
	case KindAggregation:
		return "aggregation"
	default:
		return "unknown"
	}
}

// Error is a run failure tagged with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
