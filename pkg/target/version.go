package target

import (
	"encoding/binary"
	"regexp"

	"github.com/austin-dist/austin/pkg/binimage"
	"github.com/austin-dist/austin/pkg/errs"
	"github.com/austin-dist/austin/pkg/pyabi"
	"github.com/austin-dist/austin/pkg/remote"
)

// versionFromFilename recognises "pythonX.Y" / "libpythonX.Ym" style
// names, the last-resort strategy original_source's
// _py_proc__infer_python_version falls through to when no symbol or
// debug-offsets cookie is available.
var versionFromFilename = regexp.MustCompile(`python(\d)\.(\d+)`)

// debugOffsetsReadLen covers the cookie, version, and every offset field
// pyabi.DecodeDebugOffsets parses: 8 (cookie) + 8 (version) + 20 fields
// of 8 bytes each.
const debugOffsetsReadLen = 8 + 8 + 20*8

// inferVersion resolves a target's CPython version descriptor, trying
// in order: the 3.13+ self-describing debug-offsets cookie, the
// Py_Version/HexVersion symbol, and finally the exe/lib file name --
// the same ordered fallback as original_source/src/py_proc.c's
// _py_proc__infer_python_version.
func inferVersion(rdr remote.Reader, h remote.Handle, img *binimage.Image, exe, lib string) (*pyabi.Descriptor, error) {
	if addr, ok := img.Symbols["Runtime"]; ok {
		if raw, err := remote.Copy(rdr, h, addr, debugOffsetsReadLen); err == nil {
			if d, ok := pyabi.DecodeDebugOffsets(raw); ok {
				return d, nil
			}
		}
	}

	if addr, ok := img.Symbols["HexVersion"]; ok {
		raw, err := remote.Copy(rdr, h, addr, 4)
		if err == nil {
			hex := binary.LittleEndian.Uint32(raw)
			if d := pyabi.InferVersion(hex); d != nil {
				return d, nil
			}
		}
	}

	for _, path := range []string{lib, exe} {
		if m := versionFromFilename.FindStringSubmatch(path); m != nil {
			major := int(m[1][0] - '0')
			minor := atoiSimple(m[2])
			if d := pyabi.Lookup(major, minor, 0); d != nil {
				return d, nil
			}
		}
	}

	return nil, errs.New(errs.Version, "cannot infer Python version")
}

func atoiSimple(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
