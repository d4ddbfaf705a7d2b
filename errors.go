package dieselrhi

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/andewx/dieselrhi/hal"
)

// ErrorKind classifies every failure the RHI reports.
type ErrorKind int

const (
	// KindInit covers startup failures: no capable device, no usable surface format.
	KindInit ErrorKind = iota + 1
	KindCreate
	KindAllocate
	KindBind
	// KindSync is a failed wait or reset on a fence or semaphore.
	KindSync
	// KindTimeout is a wait that ran out of time. It is not fatal.
	KindTimeout
	// KindSwapchain is an out-of-date swapchain. Rebuild and retry.
	KindSwapchain
	KindSubmit
	KindRecord
	// KindUsage is a caller error detected before reaching the driver.
	KindUsage
)

var kindNames = map[ErrorKind]string{
	KindInit:      "initialization",
	KindCreate:    "handle creation",
	KindAllocate:  "allocation",
	KindBind:      "memory bind",
	KindSync:      "synchronization",
	KindTimeout:   "timeout",
	KindSwapchain: "swapchain invalidated",
	KindSubmit:    "submission",
	KindRecord:    "recording",
	KindUsage:     "invalid usage",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Kind sentinels, matched with errors.Is against any *Error of that kind.
var (
	ErrInit      = &Error{Kind: KindInit}
	ErrCreate    = &Error{Kind: KindCreate}
	ErrAllocate  = &Error{Kind: KindAllocate}
	ErrBind      = &Error{Kind: KindBind}
	ErrSync      = &Error{Kind: KindSync}
	ErrTimeout   = &Error{Kind: KindTimeout}
	ErrSwapchain = &Error{Kind: KindSwapchain}
	ErrSubmit    = &Error{Kind: KindSubmit}
	ErrRecord    = &Error{Kind: KindRecord}
	ErrUsage     = &Error{Kind: KindUsage}
)

// Named conditions.
var (
	ErrNoDevice             = errors.New("no graphics and present capable device with timeline semaphores")
	ErrNoSurfaceFormat      = errors.New("surface offers no supported format")
	ErrMemReadOnly          = errors.New("memory is not host visible")
	ErrUnsupportedSemaphore = errors.New("operation not supported by this semaphore kind")
	ErrOutOfDate            = errors.New("swapchain out of date")
	ErrDoubleFree           = errors.New("allocation already freed")
	ErrEncoderState         = errors.New("encoder used out of order")
)

// Error is returned by every fallible RHI call. Result holds the driver
// code when the failure came from the graphics API; Err holds a named
// condition when it did not.
type Error struct {
	Op     string
	Kind   ErrorKind
	Result hal.Result
	Err    error
	// Caller is the function that raised the error.
	Caller string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("dieselrhi: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(" failed")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else if e.Result != hal.Success {
		fmt.Fprintf(&b, ": %s", e.Result.Error())
	}
	if e.Caller != "" {
		b.WriteString(" on ")
		b.WriteString(e.Caller)
	}
	return b.String()
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Result == hal.Success && t.Err == nil && t.Kind == e.Kind
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Result.Failed() || e.Result == hal.Timeout {
		return e.Result
	}
	return nil
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func newError(op string, kind ErrorKind, ret hal.Result) error {
	return &Error{Op: op, Kind: kind, Result: ret, Caller: caller(2)}
}

func usageError(op string, err error) error {
	return &Error{Op: op, Kind: KindUsage, Err: err, Caller: caller(2)}
}

// check turns a failed hal.Result into an *Error of the given kind.
func check(op string, kind ErrorKind, ret hal.Result) error {
	if !ret.Failed() {
		return nil
	}
	return &Error{Op: op, Kind: kind, Result: ret, Caller: caller(2)}
}

func caller(skip int) string {
	pc, _, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return fmt.Sprintf("%s:%d", name, line)
}
