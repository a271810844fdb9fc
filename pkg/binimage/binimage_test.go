package binimage

import (
	"os"
	"testing"
)

func TestClassifyKnownSlots(t *testing.T) {
	cases := []struct {
		name string
		slot string
	}{
		{"_PyRuntime", "Runtime"},
		{"PyRuntime", "Runtime"},
		{"Py_Version", "HexVersion"},
		{"_Py_Version", "HexVersion"},
	}
	for _, c := range cases {
		slot, ok := classify(c.name)
		if !ok || slot != c.slot {
			t.Errorf("classify(%q) = (%q, %v), want (%q, true)", c.name, slot, ok, c.slot)
		}
	}
}

func TestClassifyUnknownSymbol(t *testing.T) {
	if _, ok := classify("some_unrelated_symbol"); ok {
		t.Error("classify should reject symbols outside symbolSlots")
	}
}

func TestAnalyzeRejectsUnrecognisedFormat(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-binary")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	if _, err := f.Write([]byte("not a binary")); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	f.Close()

	if _, err := Analyze(f.Name()); err == nil {
		t.Error("Analyze should reject a file with no recognised magic")
	}
}
