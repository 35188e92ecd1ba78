package xrerr

import (
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestKindCodeMapping(t *testing.T) {
	tests := []struct {
		kind  Kind
		code  codes.Code
		fatal bool
	}{
		{Validation, codes.InvalidArgument, false},
		{CallOrder, codes.FailedPrecondition, false},
		{ResourceExhausted, codes.ResourceExhausted, false},
		{Timeout, codes.DeadlineExceeded, false},
		{IPCFailure, codes.Unavailable, true},
		{Runtime, codes.Internal, true},
		{DeviceLost, codes.Aborted, true},
	}
	for _, tt := range tests {
		if got := tt.kind.Code(); got != tt.code {
			t.Errorf("%v.Code() = %v, want %v", tt.kind, got, tt.code)
		}
		if got := tt.kind.Fatal(); got != tt.fatal {
			t.Errorf("%v.Fatal() = %v, want %v", tt.kind, got, tt.fatal)
		}
	}
}

func TestNewTruncatesDiagnostic(t *testing.T) {
	long := strings.Repeat("x", 1000)
	err := New(Runtime, "%s", long)
	xe := err.(*Error)
	if len(xe.Error()) != maxDiagnosticLen {
		t.Fatalf("diagnostic length = %d, want %d", len(xe.Error()), maxDiagnosticLen)
	}
}

func TestFromStatusRoundTrip(t *testing.T) {
	orig := New(CallOrder, "begin_frame called before wait_frame").(*Error)
	restored := FromStatus(orig.Status())
	if restored.Kind != CallOrder {
		t.Fatalf("Kind = %v, want CallOrder", restored.Kind)
	}
	if restored.Error() != orig.Error() {
		t.Fatalf("message = %q, want %q", restored.Error(), orig.Error())
	}
}
