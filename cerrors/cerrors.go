// Copyright ©2020 Steve Merrony

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package cerrors defines the error taxonomy shared by every protocol
// handler in the hub core. Handlers return one of these Kinds rather than
// ad-hoc strings so callers can dispatch with errors.As.
package cerrors

import "fmt"

// Kind identifies which branch of the core's error taxonomy an Error belongs to.
type Kind int

const (
	// KindTimeout indicates a blocking operation exceeded its deadline.
	KindTimeout Kind = iota
	// KindParseError indicates malformed wire framing (FCS/CRC/length).
	KindParseError
	// KindProtocolError indicates a well-formed but semantically wrong message.
	KindProtocolError
	// KindAuthError indicates a session or credential failure.
	KindAuthError
	// KindTransportClosed indicates the underlying transport is no longer usable.
	KindTransportClosed
	// KindNotFound indicates no such device or handler exists.
	KindNotFound
	// KindUnsupported indicates the device lacks the requested capability.
	KindUnsupported
	// KindIoError wraps an underlying OS/network error.
	KindIoError
	// KindInternal indicates a broken invariant; fatal to the owning component only.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindParseError:
		return "ParseError"
	case KindProtocolError:
		return "ProtocolError"
	case KindAuthError:
		return "AuthError"
	case KindTransportClosed:
		return "TransportClosed"
	case KindNotFound:
		return "NotFound"
	case KindUnsupported:
		return "Unsupported"
	case KindIoError:
		return "IoError"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across the core's package boundaries.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "znp.request"
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %s (%v)", e.Op, e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is allows errors.Is(err, cerrors.Timeout) style matching against a Kind sentinel
// created via New with no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given Kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error of the given Kind around an underlying cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Wrapped: cause}
}

// Sentinels for errors.Is comparisons that don't need Op/Message detail.
var (
	Timeout         = &Error{Kind: KindTimeout}
	ParseError      = &Error{Kind: KindParseError}
	ProtocolError   = &Error{Kind: KindProtocolError}
	AuthError       = &Error{Kind: KindAuthError}
	TransportClosed = &Error{Kind: KindTransportClosed}
	NotFound        = &Error{Kind: KindNotFound}
	Unsupported     = &Error{Kind: KindUnsupported}
	IoError         = &Error{Kind: KindIoError}
	Internal        = &Error{Kind: KindInternal}
)

// Is reports whether err is itself an *Error of the given Kind. It does not
// unwrap err; use errors.Is with one of the sentinels above for that.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
