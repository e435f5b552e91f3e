package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseSession  Phase = "session"  // state machine preconditions
	PhaseStage    Phase = "stage"    // host to engine memory
	PhaseInvoke   Phase = "invoke"   // engine entry point
	PhaseRetrieve Phase = "retrieve" // engine memory to host
	PhaseRelease  Phase = "release"  // engine deallocation
	PhaseEncode   Phase = "encode"   // WAV output
	PhaseDecode   Phase = "decode"   // audio input
	PhaseLoad     Phase = "load"     // engine module loading
	PhaseRuntime  Phase = "runtime"  // runtime operations
)

// Kind categorizes the error
type Kind string

const (
	KindNotReady            Kind = "not_ready"
	KindNoInput             Kind = "no_input"
	KindAlreadyProcessing   Kind = "already_processing"
	KindAllocation          Kind = "allocation"
	KindInvocation          Kind = "invocation"
	KindInvalidOutputLength Kind = "invalid_output_length"
	KindDecode              Kind = "decode"
	KindHandleState         Kind = "handle_state"
	KindOutOfBounds         Kind = "out_of_bounds"
	KindNoOutput            Kind = "no_output"
	KindInvalidInput        Kind = "invalid_input"
	KindInvalidData         Kind = "invalid_data"
	KindNotFound            Kind = "not_found"
	KindInstantiation       Kind = "instantiation"
)

var messages = map[Kind]string{
	KindNotReady:            "The processing engine is not ready yet. Please wait.",
	KindNoInput:             "No audio loaded. Load an audio file first.",
	KindAlreadyProcessing:   "Processing is already running.",
	KindAllocation:          "The engine could not allocate memory for the audio.",
	KindInvocation:          "The engine failed to process the audio.",
	KindInvalidOutputLength: "The engine produced an implausible amount of audio.",
	KindDecode:              "Could not decode the audio file. Please try another file.",
	KindHandleState:         "An engine buffer was used after it was released.",
	KindOutOfBounds:         "An engine buffer lies outside engine memory.",
	KindNoOutput:            "There is no processed audio to export.",
	KindInvalidInput:        "Invalid input.",
	KindInvalidData:         "Invalid data.",
	KindNotFound:            "Not found.",
	KindInstantiation:       "The engine module could not be started.",
}

// Message returns the user-facing message for kind.
func Message(kind Kind) string {
	if m, ok := messages[kind]; ok {
		return m
	}
	return string(kind)
}

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the user-facing message for the error's kind.
func (e *Error) Message() string {
	return Message(e.Kind)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind, regardless of phase.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotReady creates an engine-not-ready error
func NotReady(what string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindNotReady,
		Detail: fmt.Sprintf("%s not initialized", what),
	}
}

// NoInput creates a missing-input error
func NoInput(detail string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindNoInput,
		Detail: detail,
	}
}

// AlreadyProcessing creates a re-entrancy error
func AlreadyProcessing() *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindAlreadyProcessing,
		Detail: "a processing run is in flight",
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Value:  size,
		Cause:  cause,
	}
}

// InvocationFailed creates an engine invocation error
func InvocationFailed(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindInvocation,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidOutputLength creates an implausible output count error
func InvalidOutputLength(length int64, limit uint64) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindInvalidOutputLength,
		Detail: fmt.Sprintf("engine reported %d samples (limit %d)", length, limit),
		Value:  length,
	}
}

// Decode creates an input decoding error
func Decode(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindDecode,
		Detail: detail,
		Cause:  cause,
	}
}

// HandleState creates an error for an operation on a handle in the wrong state
func HandleState(phase Phase, op string, state fmt.Stringer) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindHandleState,
		Detail: fmt.Sprintf("%s on %s handle", op, state),
		Value:  state,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("region [%d, +%d) out of bounds", offset, length),
		Value:  offset,
		Cause:  cause,
	}
}

// NoOutput creates a missing-output error
func NoOutput() *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindNoOutput,
		Detail: "no processed output",
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate engine module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}
