/*
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package xrerr carries the service's error kinds as conventional
// google.golang.org/grpc status values rather than a hand-rolled error-kind
// type, so every failing request already carries an inspectable status
// object with a code and a diagnostic message.
package xrerr

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is one of the seven error classes a request or session event can
// carry.
type Kind int

const (
	Validation Kind = iota
	CallOrder
	ResourceExhausted
	Timeout
	IPCFailure
	Runtime
	DeviceLost
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "VALIDATION"
	case CallOrder:
		return "CALL_ORDER"
	case ResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case Timeout:
		return "TIMEOUT"
	case IPCFailure:
		return "IPC_FAILURE"
	case Runtime:
		return "RUNTIME"
	case DeviceLost:
		return "DEVICE_LOST"
	default:
		return "UNKNOWN"
	}
}

// Code returns the grpc/codes.Code this Kind is carried as on the wire.
func (k Kind) Code() codes.Code {
	switch k {
	case Validation:
		return codes.InvalidArgument
	case CallOrder:
		return codes.FailedPrecondition
	case ResourceExhausted:
		return codes.ResourceExhausted
	case Timeout:
		return codes.DeadlineExceeded
	case IPCFailure:
		return codes.Unavailable
	case Runtime:
		return codes.Internal
	case DeviceLost:
		return codes.Aborted
	default:
		return codes.Unknown
	}
}

// Fatal reports whether an error of this Kind ends the owning session
// rather than merely failing the one request that raised it.
func (k Kind) Fatal() bool {
	switch k {
	case IPCFailure, Runtime, DeviceLost:
		return true
	default:
		return false
	}
}

const maxDiagnosticLen = 256

// New builds a status-carrying error of the given kind. The diagnostic
// message is truncated to 256 bytes.
func New(kind Kind, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxDiagnosticLen {
		msg = msg[:maxDiagnosticLen]
	}
	return &Error{Kind: kind, st: status.New(kind.Code(), msg)}
}

// Error wraps a status.Status with the Kind it was constructed from, so
// callers can both inspect st.Code()/st.Message() conventionally and ask
// Fatal() without re-deriving it from the code.
type Error struct {
	Kind Kind
	st   *status.Status
}

func (e *Error) Error() string { return e.st.Message() }

// Status returns the underlying grpc status, for serialization onto the
// control socket's reply status word.
func (e *Error) Status() *status.Status { return e.st }

// Fatal reports whether this error ends the owning session.
func (e *Error) Fatal() bool { return e.Kind.Fatal() }

// FromStatus reconstructs an *Error from a status.Status received off the
// wire, recovering Kind from the status code.
func FromStatus(st *status.Status) *Error {
	return &Error{Kind: kindFromCode(st.Code()), st: st}
}

func kindFromCode(c codes.Code) Kind {
	switch c {
	case codes.InvalidArgument:
		return Validation
	case codes.FailedPrecondition:
		return CallOrder
	case codes.ResourceExhausted:
		return ResourceExhausted
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Unavailable:
		return IPCFailure
	case codes.Aborted:
		return DeviceLost
	default:
		return Runtime
	}
}
