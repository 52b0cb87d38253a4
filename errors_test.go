package hnsw

import (
	"errors"
	"testing"
)

func Test_Wrap_Formats_Correctly_When_Various_Inputs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
			err:  wrap(nil),
			want: "",
		},
		{
			name: "bare sentinel",
			err:  wrap(ErrLabelNotFound),
			want: "hnsw: : hnsw: label not found",
		},
		{
			name: "with op",
			err:  wrap(ErrLabelNotFound, withOp("Get")),
			want: "hnsw: Get: hnsw: label not found",
		},
		{
			name: "with op and label",
			err:  wrap(ErrLabelNotFound, withOp("Get"), withLabel(42)),
			want: "hnsw: Get(label=42): hnsw: label not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var got string
			if tc.err != nil {
				got = tc.err.Error()
			}

			if got != tc.want {
				t.Fatalf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func Test_Wrap_Returns_Nil_For_Nil_Error(t *testing.T) {
	t.Parallel()

	if err := wrap(nil, withOp("Add")); err != nil {
		t.Fatalf("wrap(nil) = %v, want nil", err)
	}
}

func Test_Wrap_Is_Comparable_Via_ErrorsIs_To_Sentinel(t *testing.T) {
	t.Parallel()

	err := wrap(ErrCapacityExceeded, withOp("Add"), withLabel(7))

	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("errors.Is(wrapped, ErrCapacityExceeded) = false, want true")
	}
	if errors.Is(err, ErrLabelNotFound) {
		t.Fatalf("errors.Is(wrapped, ErrLabelNotFound) = true, want false")
	}
}

func Test_Wrap_Inherits_Existing_Context_Instead_Of_Double_Wrapping(t *testing.T) {
	t.Parallel()

	inner := wrap(ErrInvalidArgument, withOp("Add"), withLabel(3))
	outer := wrap(inner, withOp("Init"))

	var e *Error
	if !errors.As(outer, &e) {
		t.Fatalf("errors.As(outer, &Error{}) = false, want true")
	}

	if e.Op != "Init" {
		t.Fatalf("Op = %q, want %q (new option overrides inherited field)", e.Op, "Init")
	}
	if !e.HasLabel || e.Label != 3 {
		t.Fatalf("Label context lost across re-wrap: HasLabel=%v Label=%d", e.HasLabel, e.Label)
	}

	// The outer wrap must not have nested a second *Error inside e.Err.
	if _, doubleWrapped := e.Err.(*Error); doubleWrapped {
		t.Fatalf("wrap() double-wrapped an already-wrapped error")
	}
}
