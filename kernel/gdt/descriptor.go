package gdt

// Descriptor is an 8-byte entry of the global descriptor table.
type Descriptor uint64

// Descriptor bits. In 64-bit mode the base and limit of code and data
// segments are ignored; only the bits below select the segment type.
const (
	// DescAccessed is set by the CPU on first use of a segment unless it
	// is already set.
	DescAccessed Descriptor = 1 << 40

	// DescReadable allows reads from a code segment. For data segments
	// the same bit enables writes.
	DescReadable Descriptor = 1 << 41
	DescWritable Descriptor = 1 << 41

	// DescConforming allows calls from lower privilege levels into a
	// code segment.
	DescConforming Descriptor = 1 << 42

	// DescExecutable marks a code segment.
	DescExecutable Descriptor = 1 << 43

	// DescUserSegment is set for code and data segments and cleared for
	// system segments such as the TSS.
	DescUserSegment Descriptor = 1 << 44

	// DescDPLRing3 sets the descriptor privilege level to 3.
	DescDPLRing3 Descriptor = 3 << 45

	// DescPresent must be set for all valid descriptors.
	DescPresent Descriptor = 1 << 47

	// DescLongMode marks a 64-bit code segment.
	DescLongMode Descriptor = 1 << 53

	// DescDefault32 selects 32-bit operands; must be clear when
	// DescLongMode is set.
	DescDefault32 Descriptor = 1 << 54

	// DescGranularity scales the limit by 4 KiB.
	DescGranularity Descriptor = 1 << 55
)

const (
	descCommon = DescAccessed | DescUserSegment | DescPresent

	// KernelCode64 is a ring 0, 64-bit code segment.
	KernelCode64 = descCommon | DescExecutable | DescReadable | DescLongMode

	// systemTypeTSS is the type field of an available 64-bit TSS.
	systemTypeTSS = Descriptor(0x9) << 40

	descTypeMask = Descriptor(0xf) << 40
)

// HasFlags returns true if all bits in flags are set.
func (d Descriptor) HasFlags(flags Descriptor) bool {
	return d&flags == flags
}

// Base returns the low 32 bits of the segment base address.
func (d Descriptor) Base() uint32 {
	return uint32((d>>16)&0xffffff) | uint32((d>>56)&0xff)<<24
}

// Limit returns the 20-bit segment limit.
func (d Descriptor) Limit() uint32 {
	return uint32(d&0xffff) | uint32((d>>48)&0xf)<<16
}

// systemType returns the 4-bit type field.
func (d Descriptor) systemType() Descriptor {
	return (d & descTypeMask) >> 40
}

// tssDescriptor returns the two consecutive descriptors required to
// describe a 64-bit TSS located at base.
func tssDescriptor(base uintptr, limit uint32) (low, high Descriptor) {
	low = Descriptor(limit&0xffff) |
		Descriptor(base&0xffffff)<<16 |
		systemTypeTSS |
		DescPresent |
		Descriptor((limit>>16)&0xf)<<48 |
		Descriptor((base>>24)&0xff)<<56
	high = Descriptor(uint64(base) >> 32)
	return low, high
}
