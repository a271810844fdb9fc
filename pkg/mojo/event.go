package mojo

// Event discriminants, matching original_source/src/mojo.h's enum order
// exactly (the wire format is the contract; reordering would break any
// external reader of this stream).
type Kind byte

const (
	KindReserved Kind = iota
	KindMetadata
	KindStack
	KindFrame
	KindFrameInvalid
	KindFrameRef
	KindFrameKernel
	KindGC
	KindIdle
	KindMetricTime
	KindMetricMemory
	KindString
	KindStringRef
	kindMax
)

// Version is the MOJO protocol version this package implements.
const Version = 3

// Header is the three-byte ASCII magic preceding the version integer.
const Header = "MOJ"
