// Package errs defines the failure taxonomy shared by every stage of a
// projection. Callers classify failures with errors.Is against the
// sentinel values; the typed *Error carries the operation context.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindCycle
	KindResolution
	KindExecution
	KindStorage
	KindNetwork
	KindCancelled
)

var (
	ErrConfig     = errors.New("config error")
	ErrCycle      = errors.New("dependency cycle")
	ErrResolution = errors.New("resolution error")
	ErrExecution  = errors.New("execution error")
	ErrStorage    = errors.New("storage error")
	ErrNetwork    = errors.New("network error")
	ErrCancelled  = errors.New("cancelled")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConfig:
		return ErrConfig
	case KindCycle:
		return ErrCycle
	case KindResolution:
		return ErrResolution
	case KindExecution:
		return ErrExecution
	case KindStorage:
		return ErrStorage
	case KindNetwork:
		return ErrNetwork
	case KindCancelled:
		return ErrCancelled
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure with operation context.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	return e != nil && target == e.Kind.sentinel()
}

// E builds a classified error. A context cancellation anywhere in err's
// chain turns the result into a Cancelled error regardless of kind, and an
// error that is already classified keeps its original kind.
func E(kind Kind, op string, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = KindCancelled
		} else if k, ok := KindOf(err); ok {
			kind = k
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config reports a malformed or missing definition.
func Config(op string, format string, args ...any) error {
	return &Error{Kind: KindConfig, Op: op, Err: fmt.Errorf(format, args...)}
}

// Resolution reports a reference that cannot be resolved.
func Resolution(op string, format string, args ...any) error {
	return &Error{Kind: KindResolution, Op: op, Err: fmt.Errorf(format, args...)}
}

// Execution reports a lens runner failure or malformed output.
func Execution(op string, format string, args ...any) error {
	return &Error{Kind: KindExecution, Op: op, Err: fmt.Errorf(format, args...)}
}

// Storage wraps a content-store I/O failure.
func Storage(op string, err error) error {
	return E(KindStorage, op, err)
}

// Network wraps a fetch or push failure.
func Network(op string, err error) error {
	return E(KindNetwork, op, err)
}

// Cancelled reports ctx's cancellation, or nil if ctx is still live.
func Cancelled(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindCancelled, Op: op, Err: err}
	}
	return nil
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var ce *CycleError
	if errors.As(err, &ce) {
		return KindCycle, true
	}
	return 0, false
}

// CycleError names the units participating in an ordering cycle.
type CycleError struct {
	Units []string
}

func (e *CycleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Units, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}
