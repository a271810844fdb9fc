// Package binimage analyzes the on-disk image of a target's Python
// binary and its libpython: load base, BSS region, PyRuntime section,
// and recognised dynamic symbols. It never reads process memory -- only
// the file on disk -- and dispatches to the stdlib debug/elf,
// debug/macho, and debug/pe packages.
package binimage

import (
	"bytes"
	"os"

	"github.com/austin-dist/austin/pkg/errs"
)

// Region describes a (base, size) span of a loaded image, used for BSS
// and PyRuntime sections alike.
type Region struct {
	Base uintptr
	Size uint64
}

// Symbols maps well-known dynamic symbols to resolved runtime addresses,
// keyed by the logical slot name the locator and version table expect
// ("Runtime", "HexVersion", ...).
type Symbols map[string]uintptr

// Image is the result of analysing one binary file.
type Image struct {
	Path    string
	Base    uintptr
	Exe     Region
	BSS     Region
	Runtime Region
	Symbols Symbols
}

// mandatorySymbols is the minimum set of recognised symbols the locator
// needs before it will trust an Image at all.
var mandatorySymbols = []string{"Runtime"}

// symbolSlots is an O(1) name->slot classifier: a small table where each
// entry assigns the first matching address to a well-known slot,
// realized as a map instead of a chain of strcmp calls.
var symbolSlots = map[string]string{
	"_PyRuntime":  "Runtime",
	"PyRuntime":   "Runtime",
	"Py_Version":  "HexVersion",
	"_Py_Version": "HexVersion",
}

// Analyze parses the binary at path and reports its load base, BSS
// region, PyRuntime section (if any), and recognised symbol addresses.
func Analyze(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "opening image")
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil {
		return nil, errs.Wrap(errs.Binary, err, "reading image magic")
	}

	img := &Image{Path: path, Symbols: Symbols{}}

	switch {
	case bytes.Equal(magic, []byte{0x7f, 'E', 'L', 'F'}):
		err = analyzeELF(f, img)
	case magic[0] == 'M' && magic[1] == 'Z':
		err = analyzePE(f, img)
	case bytes.Equal(magic, []byte{0xcf, 0xfa, 0xed, 0xfe}), bytes.Equal(magic, []byte{0xfe, 0xed, 0xfa, 0xcf}),
		bytes.Equal(magic, []byte{0xca, 0xfe, 0xba, 0xbe}):
		err = analyzeMachO(f, img)
	default:
		return nil, errs.New(errs.Binary, "unrecognised image format")
	}
	if err != nil {
		return nil, err
	}

	found := 0
	for _, name := range mandatorySymbols {
		if _, ok := img.Symbols[name]; ok {
			found++
		}
	}
	if found < len(mandatorySymbols) {
		return nil, errs.New(errs.Binary, "not all required symbols found")
	}
	return img, nil
}

func classify(name string) (slot string, ok bool) {
	slot, ok = symbolSlots[name]
	return
}
