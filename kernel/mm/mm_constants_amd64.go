package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes. Every translation
	// table must be aligned to this size.
	PageSize = uintptr(1 << PageShift)

	// HugePageShift is equal to log2(HugePageSize).
	HugePageShift = uintptr(21)

	// HugePageSize defines the size of the region covered by a terminal
	// entry in a level-2 translation table.
	HugePageSize = uintptr(1 << HugePageShift)
)
