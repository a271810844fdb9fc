package binimage

import (
	"debug/pe"
	"io"

	"github.com/austin-dist/austin/pkg/errs"
)

func analyzePE(r io.ReaderAt, img *Image) error {
	f, err := pe.NewFile(r)
	if err != nil {
		return errs.Wrap(errs.Binary, err, "parsing PE")
	}
	defer f.Close()

	var base uintptr
	var imageSize uint64
	switch opt := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base = uintptr(opt.ImageBase)
		imageSize = uint64(opt.SizeOfImage)
	case *pe.OptionalHeader64:
		base = uintptr(opt.ImageBase)
		imageSize = uint64(opt.SizeOfImage)
	}
	img.Base = base
	img.Exe = Region{Base: base, Size: imageSize}

	for _, sec := range f.Sections {
		switch sec.Name {
		case ".bss":
			img.BSS = Region{Base: base + uintptr(sec.VirtualAddress), Size: uint64(sec.VirtualSize)}
		case ".PyRuntime", "PyRuntim":
			// PE section names are truncated to 8 bytes; "PyRuntime"
			// does not fit and is recorded by CPython's Windows build
			// under the truncated form.
			img.Runtime = Region{Base: base + uintptr(sec.VirtualAddress), Size: uint64(sec.VirtualSize)}
		}
	}

	// PE imports never carry resolved addresses, so they are not
	// consulted here; COFF symbols (when not stripped from the release
	// build) are the only address-bearing source available without a
	// PDB. A binary lacking a COFF symbol table leaves Symbols empty;
	// Analyze then reports errs.Binary, since the "Runtime" symbol is
	// mandatory.
	for _, s := range f.COFFSymbols {
		name, err := s.FullName(f.StringTable)
		if err != nil {
			continue
		}
		if slot, ok := classify(name); ok {
			if _, taken := img.Symbols[slot]; !taken {
				img.Symbols[slot] = base + uintptr(s.Value)
			}
		}
	}
	return nil
}
