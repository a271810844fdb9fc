package binimage

import (
	"debug/macho"
	"io"

	"github.com/austin-dist/austin/pkg/errs"
)

func analyzeMachO(r io.ReaderAt, img *Image) error {
	f, err := macho.NewFile(r)
	if err != nil {
		return errs.Wrap(errs.Binary, err, "parsing Mach-O")
	}
	defer f.Close()

	var base uintptr
	var exeSize uint64
	for _, l := range f.Loads {
		if seg, ok := l.(*macho.Segment); ok && seg.Name == "__TEXT" {
			base = uintptr(seg.Addr)
			exeSize = seg.Memsz
			break
		}
	}
	img.Base = base
	img.Exe = Region{Base: base, Size: exeSize}

	for _, sec := range f.Sections {
		switch sec.Name {
		case "__bss", "__common":
			img.BSS = Region{Base: uintptr(sec.Addr), Size: sec.Size}
		case "__py_runtime", "PyRuntime":
			img.Runtime = Region{Base: uintptr(sec.Addr), Size: sec.Size}
		}
	}

	// Mach-O's dynamic import table carries names but not resolved
	// addresses; only the local symbol table gives us both, so that is
	// the only source consulted here. When it is missing (a stripped
	// binary) Symbols stays empty and Analyze reports errs.Binary, since
	// the "Runtime" symbol is mandatory.
	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			if slot, ok := classify(s.Name); ok {
				if _, taken := img.Symbols[slot]; !taken {
					img.Symbols[slot] = uintptr(s.Value)
				}
			}
		}
	}
	return nil
}
