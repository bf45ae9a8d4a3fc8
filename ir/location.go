package ir

// LocationDescriptor is an opaque 64-bit hash of guest execution state,
// sufficient to key a compiled block (spec.md §3/§4.3's C4). Every ISA
// packs its program counter into the upper 32 bits; the lower 32 bits are
// free for per-ISA mode flags. Packing PC into the same bit range for
// every ISA means PC-only arithmetic (AdvancePC, SetPC) is ISA-generic —
// it never needs to know which mode bits, if any, are in use below it.
type LocationDescriptor uint64

// NewChip8Location builds a location descriptor carrying only the guest
// PC — CHIP-8 has no Thumb/endianness/FPCR state to track, matching
// original_source/src/frontend/Chip8/location_descriptor.h's
// UniqueHash() = u64(chip8_pc)<<32 exactly.
func NewChip8Location(pc uint32) LocationDescriptor {
	return LocationDescriptor(uint64(pc) << 32)
}

// A32/Thumb mode bits, packed into the low bits below the PC field. The
// exact bit layout is not present in the retrieval pack (see DESIGN.md
// Open Question 3); this is a reasonable ISA-general packing that mirrors
// the CHIP-8 descriptor's "PC in the upper half" shape.
const (
	locBitThumb     = 1 << 0
	locBitBigEndian = 1 << 1
	locFPCRShift    = 2
	locFPCRMask     = 0x7
)

// NewA32Location builds a location descriptor for the ARM/Thumb frontend:
// PC plus the Thumb flag, endianness, and FPCR rounding-mode bits spec.md
// §3 requires ("PC plus mode bits (Thumb, endian, FPCR rounding state for
// A32)").
func NewA32Location(pc uint32, thumb, bigEndian bool, fpcrRoundingMode uint8) LocationDescriptor {
	var lower uint64
	if thumb {
		lower |= locBitThumb
	}
	if bigEndian {
		lower |= locBitBigEndian
	}
	lower |= uint64(fpcrRoundingMode&locFPCRMask) << locFPCRShift
	return LocationDescriptor(uint64(pc)<<32 | lower)
}

// PC extracts the guest program counter, ISA-generic.
func (l LocationDescriptor) PC() uint32 { return uint32(uint64(l) >> 32) }

// SetPC replaces the PC field, preserving any lower mode bits.
func (l LocationDescriptor) SetPC(pc uint32) LocationDescriptor {
	return LocationDescriptor(uint64(l)&0xFFFFFFFF | uint64(pc)<<32)
}

// AdvancePC adds n to the PC field. Because PC occupies the upper 32
// bits, adding n<<32 cannot disturb the lower mode bits unless execution
// somehow wraps the full 64-bit PC space, which no supported guest does.
func (l LocationDescriptor) AdvancePC(n uint32) LocationDescriptor {
	return LocationDescriptor(uint64(l) + uint64(n)<<32)
}

func (l LocationDescriptor) Thumb() bool     { return uint64(l)&locBitThumb != 0 }
func (l LocationDescriptor) BigEndian() bool { return uint64(l)&locBitBigEndian != 0 }
func (l LocationDescriptor) FPCRRoundingMode() uint8 {
	return uint8((uint64(l) >> locFPCRShift) & locFPCRMask)
}

// Hash returns the descriptor's use as a map key — it already is one
// (LocationDescriptor's underlying type is comparable), named for call
// sites that want to be explicit about using it as the block-cache key
// (spec.md §4.9).
func (l LocationDescriptor) Hash() uint64 { return uint64(l) }
