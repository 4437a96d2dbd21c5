package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFSError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FSError
		want string
	}{
		{
			name: "code and message",
			err:  NewError(ErrCodeInvalidConfig, "bad descriptor"),
			want: "INVALID_CONFIG: bad descriptor",
		},
		{
			name: "with path",
			err:  NotFound("/container1/file1"),
			want: "NOT_FOUND: not found: /container1/file1",
		},
		{
			name: "with cause",
			err:  BackendIO("/c/f", fmt.Errorf("connection reset")),
			want: "BACKEND_IO: backend i/o failure: /c/f: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFSError_IsMatchesByCode(t *testing.T) {
	err := PathConflict("/container1").WithCause(fmt.Errorf("inner"))
	wrapped := fmt.Errorf("mount failed: %w", err)

	if !errors.Is(wrapped, NewError(ErrCodePathConflict, "")) {
		t.Error("expected wrapped error to match PATH_CONFLICT by code")
	}
	if errors.Is(wrapped, NewError(ErrCodeNotFound, "")) {
		t.Error("PATH_CONFLICT must not match NOT_FOUND")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"direct", ReadOnly("/p"), ErrCodeReadOnly},
		{"wrapped", fmt.Errorf("op: %w", BadHandle(7)), ErrCodeBadHandle},
		{"foreign error maps to backend io", fmt.Errorf("plain"), ErrCodeBackendIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	if !IsCode(Unsupported("rename"), ErrCodeUnsupported) {
		t.Error("expected UNSUPPORTED")
	}
	if IsCode(nil, ErrCodeUnsupported) {
		t.Error("nil error must not match any code")
	}
}

func TestWithPathDoesNotMutateOriginal(t *testing.T) {
	base := NewError(ErrCodeNotFound, "not found")
	annotated := base.WithPath("/a/b")

	if base.Path != "" {
		t.Errorf("original error mutated: path = %q", base.Path)
	}
	if annotated.Path != "/a/b" {
		t.Errorf("annotated path = %q, want /a/b", annotated.Path)
	}
}
