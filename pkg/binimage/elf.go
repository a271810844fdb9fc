package binimage

import (
	"debug/elf"
	"io"

	"github.com/austin-dist/austin/pkg/errs"
)

func analyzeELF(r io.ReaderAt, img *Image) error {
	f, err := elf.NewFile(r)
	if err != nil {
		return errs.Wrap(errs.Binary, err, "parsing ELF")
	}
	defer f.Close()

	var base uintptr = ^uintptr(0)
	var exeSize uint64
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			align := prog.Align
			if align == 0 {
				align = 1
			}
			base = uintptr(prog.Vaddr - prog.Vaddr%align)
			exeSize = prog.Memsz
			break
		}
	}
	img.Base = base
	img.Exe = Region{Base: base, Size: exeSize}

	for _, sec := range f.Sections {
		switch sec.Name {
		case ".bss":
			img.BSS = Region{Base: img.Base + uintptr(sec.Addr-uint64(base)), Size: sec.Size}
		case ".PyRuntime":
			img.Runtime = Region{Base: img.Base + uintptr(sec.Addr-uint64(base)), Size: sec.Size}
		}
	}

	syms, err := f.DynamicSymbols()
	if err != nil {
		// A stripped or statically-linked binary without a dynsym
		// table leaves Symbols empty; Analyze then reports errs.Binary,
		// since the "Runtime" symbol is mandatory.
		return nil
	}
	for _, s := range syms {
		if slot, ok := classify(s.Name); ok {
			if _, taken := img.Symbols[slot]; !taken {
				img.Symbols[slot] = img.Base + uintptr(s.Value-uint64(base))
			}
		}
	}
	return nil
}
