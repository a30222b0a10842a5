package mm

// AlignUp rounds addr up to the next multiple of align which must be a
// power of 2.
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// AlignDown rounds addr down to a multiple of align which must be a power
// of 2.
func AlignDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// IsAligned returns true if addr is a multiple of align which must be a
// power of 2.
func IsAligned(addr, align uintptr) bool {
	return addr&(align-1) == 0
}
