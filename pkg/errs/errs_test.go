package errs

import (
	"errors"
	"testing"
)

func TestKindStringCoversEveryKind(t *testing.T) {
	cases := map[Kind]string{
		OS:               "os",
		Permission:       "permission",
		MemoryCopy:       "memory_copy",
		MemoryAllocation: "memory_allocation",
		IO:               "io",
		CommandLine:      "command_line",
		Environment:      "environment",
		Value:            "value",
		Null:             "null",
		Version:          "version",
		Binary:           "binary",
		PyObject:         "py_object",
		VmMaps:           "vm_maps",
		IterationEnd:     "iteration_end",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
	if got := Kind(-1).String(); got != "unknown" {
		t.Fatalf("unrecognised Kind.String() = %q, want %q", got, "unknown")
	}
}

func TestFatalAndRetriedPolicies(t *testing.T) {
	if !Fatal(OS) || !Fatal(Permission) || !Fatal(Null) || !Fatal(Version) {
		t.Fatalf("expected OS, Permission, Null, and Version to be fatal")
	}
	if Fatal(PyObject) || Fatal(Value) || Fatal(IterationEnd) {
		t.Fatalf("expected PyObject, Value, and IterationEnd to be non-fatal")
	}
	if !Retried(MemoryCopy) || !Retried(Binary) || !Retried(VmMaps) {
		t.Fatalf("expected MemoryCopy, Binary, and VmMaps to be retried")
	}
	if Retried(PyObject) {
		t.Fatalf("expected PyObject to not be marked retried")
	}
}

func TestNewProducesAClassifiedError(t *testing.T) {
	err := New(Value, "implausible unicode length")
	if err.Kind != Value {
		t.Fatalf("got kind %v, want Value", err.Kind)
	}
	if err.Fatal() {
		t.Fatalf("expected a Value error to not be fatal")
	}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("process_vm_readv: permission denied")
	err := Wrap(Permission, cause, "reading target memory")
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if !err.Fatal() {
		t.Fatalf("expected Permission to be fatal")
	}
}

func TestWrapWithNilCauseBehavesLikeNew(t *testing.T) {
	err := Wrap(IO, nil, "closing output file")
	if err.Unwrap() == nil {
		t.Fatalf("expected Wrap(nil) to still carry a synthesized cause like New")
	}
}

func TestAsFindsClassifiedErrorThroughWrapping(t *testing.T) {
	inner := New(CommandLine, "unknown flag")
	wrapped := errors.Join(errors.New("parsing arguments"), inner)

	got, ok := As(wrapped)
	if !ok || got.Kind != CommandLine {
		t.Fatalf("As() = %v, %v; want a CommandLine error", got, ok)
	}

	if _, ok := As(errors.New("plain error")); ok {
		t.Fatalf("expected As() to report false for an unclassified error")
	}
}
