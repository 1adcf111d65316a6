// Package mlerr defines the evaluator's error taxonomy as a
// small set of sentinel kinds plus one structured error type that carries
// directive context as it propagates back up through evaluation.
package mlerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of evaluator error. Kinds are compared with
// errors.Is against the Error.Kind sentinel, not by string value.
type Kind error

var (
	// ValidationFailed: AST does not match a directive's required shape.
	ValidationFailed Kind = errors.New("validation failed")
	// UndefinedVariable: identifier has no binding in the scope chain.
	UndefinedVariable Kind = errors.New("undefined variable")
	// FieldNotFound: field/index access missed on an object/array.
	FieldNotFound Kind = errors.New("field not found")
	// InvalidValueKind: factory received a value incompatible with the
	// requested Variable variant.
	InvalidValueKind Kind = errors.New("invalid value kind")
	// ToolsCollectionInvalid: a `tools` object literal failed shape
	// validation.
	ToolsCollectionInvalid Kind = errors.New("tools collection invalid")
	// FileNotFound / FileError: filesystem collaborator failures.
	FileNotFound Kind = errors.New("file not found")
	FileError Kind = errors.New("file error")
	// ImportNotFound / ImportCycle: module resolver failures.
	ImportNotFound Kind = errors.New("import not found")
	ImportCycle Kind = errors.New("import cycle")
	// HTTPError / MCPError: network collaborator failures.
	HTTPError Kind = errors.New("http error")
	MCPError Kind = errors.New("mcp error")
	// ExecutionFailed: shell/code execution returned non-zero / threw.
	ExecutionFailed Kind = errors.New("execution failed")
	// GuardDenied: a guard clause denied the operation.
	GuardDenied Kind = errors.New("guard denied")
	// PipelineRetryExhausted / PipelineResetInvalid: pipeline state
	// machine failures.
	PipelineRetryExhausted Kind = errors.New("pipeline retry exhausted")
	PipelineResetInvalid Kind = errors.New("pipeline reset invalid")
	// Aborted: cancellation signal fired.
	Aborted Kind = errors.New("aborted")
)

// Location mirrors the AST location span.
type Location struct {
	Line, Col int
	EndLine, EndCol int
	Source string
}

// Error is the structured error every evaluator boundary attaches context
// to before rethrowing, per the propagation policy.
type Error struct {
	Kind Kind
	Message string
	DirectiveKind string
	Subtype string
	Location Location
	CurrentFile string
	Context map[string]any
	Cause error
}

func (e *Error) Error() string {
	if e.DirectiveKind != "" {
		return fmt.Sprintf("%s (%s/%s at %s:%d:%d): %s",
			kindLabel(e.Kind), e.DirectiveKind, e.Subtype, e.CurrentFile,
			e.Location.Line, e.Location.Col, e.Message)
	}
	return fmt.Sprintf("%s: %s", kindLabel(e.Kind), e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func kindLabel(k Kind) string {
	if k == nil {
		return "error"
	}
	return k.Error()
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDirective attaches directive context to e and returns e for chaining,
// the usual "attach context, rethrow" pattern used as errors propagate up
// through directive evaluation.
func (e *Error) WithDirective(kind, subtype string, loc Location, currentFile string) *Error {
	e.DirectiveKind = kind
	e.Subtype = subtype
	e.Location = loc
	e.CurrentFile = currentFile
	return e
}

// WithContext merges key/value pairs into e.Context.
func (e *Error) WithContext(kv ...any) *Error {
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			e.Context[k] = kv[i+1]
		}
	}
	return e
}

// AsError re-panics-free conversion helper: returns e unwrapped if err is
// already an *Error, otherwise wraps it under ExecutionFailed.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(ExecutionFailed, err, "%v", err)
}
