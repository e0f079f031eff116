// Package fault defines the error taxonomy for a warden turn.
//
// Every fault carries a Kind that decides how the orchestrator reacts:
// configuration faults are fatal at startup, retrieval and memory faults
// degrade, generation faults get one retry, validation exhaustion and
// withheld approvals are expected terminal outcomes.
package fault

import (
	"errors"

	"github.com/samber/oops"
)

// Kind classifies a fault.
type Kind string

const (
	Configuration       Kind = "configuration"
	Retrieval           Kind = "retrieval"
	Generation          Kind = "generation"
	ValidationExhausted Kind = "validation_exhausted"
	Memory              Kind = "memory"
	ApprovalTimeout     Kind = "approval_timeout"
	ApprovalRejected    Kind = "approval_rejected"

	// Unknown is returned by KindOf for errors outside the taxonomy.
	Unknown Kind = ""
)

// Fault is an error tagged with a Kind and the operation that raised it.
type Fault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Kind) + " fault in " + f.Op
	}
	return f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New wraps err as a fault of the given kind. The underlying error is
// decorated with oops context so structured loggers can render the domain
// and code. A nil err produces a fault with a generic message.
func New(kind Kind, op string, err error) error {
	b := oops.In(op).Code(string(kind))

	var wrapped error
	if err == nil {
		wrapped = b.Errorf("%s fault", kind)
	} else {
		wrapped = b.Wrap(err)
	}

	return &Fault{Kind: kind, Op: op, Err: wrapped}
}

// Newf builds a fault from a format string.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Fault{
		Kind: kind,
		Op:   op,
		Err:  oops.In(op).Code(string(kind)).Errorf(format, args...),
	}
}

// KindOf returns the Kind of the outermost fault in err's chain.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Unknown
}

// Is reports whether err carries a fault of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Retryable reports whether a step that failed with a fault of kind may
// be attempted once more.
func Retryable(kind Kind) bool {
	switch kind {
	case Retrieval, Generation:
		return true
	default:
		return false
	}
}

// UserMessage returns the user-safe text for a terminal fault. Raw errors
// are never shown to users.
func UserMessage(kind Kind) string {
	switch kind {
	case Configuration:
		return "The assistant is not configured correctly. Please contact an administrator."
	case Retrieval:
		return "The document library could not be searched right now. Please try again shortly."
	case Generation:
		return "An answer could not be generated right now. Please try again shortly."
	case ValidationExhausted:
		return FallbackAnswer
	case Memory:
		return "Your preferences could not be loaded, but your question can still be answered."
	case ApprovalTimeout:
		return "The answer was not approved for release in time and has been withheld."
	case ApprovalRejected:
		return "The answer was not approved for release and has been withheld."
	default:
		return "Something went wrong while answering. Please try again."
	}
}

// FallbackAnswer is delivered when no answer could be grounded in evidence.
const FallbackAnswer = "I could not find sufficient grounded evidence in the available documents to answer this question reliably. " +
	"Try rephrasing the question or narrowing it to a specific framework, article, or control."
