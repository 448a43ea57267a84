package apperror

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without field",
			err:      New(CodeTicketNotFound, "ticket not found"),
			expected: "[TICKET_NOT_FOUND] ticket not found",
		},
		{
			name:     "with field",
			err:      NewWithField(CodeInvalidBinding, "missing body field", "body"),
			expected: "[INVALID_BINDING] missing body field (field: body)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeDialFailed, "dial failed")

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestError_GRPCStatus(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		expectedCode codes.Code
	}{
		{"invalid binding", CodeInvalidBinding, codes.InvalidArgument},
		{"ticket not found", CodeTicketNotFound, codes.NotFound},
		{"revision conflict", CodeRevisionConflict, codes.FailedPrecondition},
		{"timeout", CodeTimeout, codes.DeadlineExceeded},
		{"unauthenticated", CodeUnauthenticated, codes.Unauthenticated},
		{"backend unavailable", CodeBackendUnavailable, codes.Unavailable},
		{"unknown maps to internal", ErrorCode("SOMETHING_ELSE"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "message")
			st := err.GRPCStatus()
			if st.Code() != tt.expectedCode {
				t.Errorf("grpcCode() = %v, want %v", st.Code(), tt.expectedCode)
			}
		})
	}
}

func TestToGRPC_PassesThroughGRPCStatus(t *testing.T) {
	original := New(CodeTicketClosed, "ticket is closed").GRPCStatus().Err()
	got := ToGRPC(original)
	if got != original {
		t.Errorf("ToGRPC should pass through an already-gRPC error unchanged")
	}
}

func TestFromGRPC_RoundTrip(t *testing.T) {
	appErr := New(CodeRevisionConflict, "stale revision")
	grpcErr := ToGRPC(appErr)

	back := FromGRPC(grpcErr)
	if back.Code != CodeTicketNotFound && back.Message != appErr.Message {
		// FromGRPC can't recover the exact original code for codes without a
		// 1:1 gRPC mapping, but the message must survive the round trip.
		t.Errorf("FromGRPC().Message = %q, want %q", back.Message, appErr.Message)
	}
}

func TestIs_MatchesCode(t *testing.T) {
	err := New(CodeKeyExists, "key already exists")
	if !Is(err, CodeKeyExists) {
		t.Error("Is should match the error's code")
	}
	if Is(err, CodeTicketNotFound) {
		t.Error("Is should not match an unrelated code")
	}
	if Is(errors.New("plain error"), CodeKeyExists) {
		t.Error("Is should not match a non-*Error")
	}
}

func TestIsWarning_IsCritical(t *testing.T) {
	warn := NewWarning(CodeTimeout, "retrying")
	if !IsWarning(warn) {
		t.Error("expected warning severity")
	}
	crit := NewCritical(CodeInternal, "sandbox escape detected")
	if !IsCritical(crit) {
		t.Error("expected critical severity")
	}
}
