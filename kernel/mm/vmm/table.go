package vmm

import (
	"kboot/kernel"
	"kboot/kernel/mm"
	"unsafe"
)

var (
	errNoChildTables   = &kernel.Error{Module: "vmm", Message: "at least one level-2 table is required"}
	errTooManyTables   = &kernel.Error{Module: "vmm", Message: "level-2 tables do not fit in a single level-3 table"}
	errMapOutOfRange   = &kernel.Error{Module: "vmm", Message: "identity map exceeds the maximum physical address"}
	errMisalignedStart = &kernel.Error{Module: "vmm", Message: "identity map start address must be aligned to the large page size"}
)

// Table is a single translation table. The hardware requires each table to be
// aligned to mm.PageSize.
type Table [entriesPerTable]Entry

// Addr returns the address of t.
func (t *Table) Addr() uintptr {
	return uintptr(unsafe.Pointer(t))
}

// tableTree holds every table used by the identity map. Level 2 entries are
// terminal so no level-1 tables are needed.
type tableTree struct {
	l4 Table
	l3 Table
	l2 [l2TableCount]Table
}

var (
	// tableArena reserves enough space for a page-aligned tableTree. The Go
	// toolchain cannot align a global to 4 KiB so an extra page is reserved
	// and the tree is placed at the first aligned offset.
	tableArena [unsafe.Sizeof(tableTree{}) + mm.PageSize]byte
)

// tables returns the page-aligned tableTree that lives inside tableArena.
func tables() *tableTree {
	base := uintptr(unsafe.Pointer(&tableArena[0]))
	pad := mm.AlignUp(base, mm.PageSize) - base
	return (*tableTree)(unsafe.Pointer(&tableArena[pad]))
}

// buildIdentityMap populates the supplied tables so that virtual addresses
// [0, len(l2) GiB) map to the physical range starting at start. Each l2 table
// receives entriesPerTable terminal entries, each l3 slot points to one l2
// table and the first l4 slot points to l3. All other entries are cleared.
func buildIdentityMap(l4, l3 *Table, l2 []Table, start uintptr) *kernel.Error {
	switch {
	case len(l2) == 0:
		return errNoChildTables
	case len(l2) > entriesPerTable:
		return errTooManyTables
	case !mm.IsAligned(start, mm.HugePageSize):
		return errMisalignedStart
	case uint64(start)+uint64(len(l2))*uint64(l2TableSpan) > maxPhysAddr:
		return errMapOutOfRange
	}

	kernel.Memset(l4.Addr(), 0, unsafe.Sizeof(*l4))
	kernel.Memset(l3.Addr(), 0, unsafe.Sizeof(*l3))

	var (
		err  *kernel.Error
		addr = start
	)

	for i := range l2 {
		for j := range l2[i] {
			if l2[i][j], err = NewLeafEntry(addr, leafFlags); err != nil {
				return err
			}
			addr += mm.HugePageSize
		}

		if l3[i], err = NewTableEntry(l2[i].Addr(), tableFlags); err != nil {
			return err
		}
	}

	l4[0], err = NewTableEntry(l3.Addr(), tableFlags)
	return err
}
