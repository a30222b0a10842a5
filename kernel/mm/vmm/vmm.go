package vmm

import (
	"io"
	"kboot/kernel"
	"kboot/kernel/cpu"
	"kboot/kernel/kfmt"
	"kboot/kernel/mm"
	"unsafe"
)

const (
	// dumpL2Entries is the number of level-2 entries logged by Init.
	dumpL2Entries = 4
)

var (
	log = kfmt.PrefixWriter{Prefix: []byte("[vmm] ")}

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// ptePtrFn returns a pointer to the supplied entry address. Since the
	// tables are identity mapped their physical address can be used to
	// access them.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}

	// built is set once Init populates the identity map.
	built bool

	// active is set once the identity map root is loaded into CR3. From
	// that point on the tables must never be modified.
	active bool

	errTablesActive   = &kernel.Error{Module: "vmm", Message: "identity map tables are active and cannot be rebuilt"}
	errTablesNotBuilt = &kernel.Error{Module: "vmm", Message: "identity map tables have not been built"}
)

// Init builds the identity map that covers IdentityMapSize bytes starting at
// physical address IdentityMapStart and logs the decoded top-level entries.
// Init performs no allocations.
func Init() *kernel.Error {
	if active {
		return errTablesActive
	}

	tree := tables()
	if err := buildIdentityMap(&tree.l4, &tree.l3, tree.l2[:], IdentityMapStart); err != nil {
		return err
	}
	built = true

	kfmt.Fprintf(&log, "identity mapped %d GiB starting at 0x%x using %d large pages\n",
		uint64(IdentityMapSize/l2TableSpan), IdentityMapStart, uint64(IdentityMapSize/mm.HugePageSize))
	DumpTo(&log, dumpL2Entries)

	return nil
}

// Activate loads the root of the identity map into the CPU's page table
// root register. Activate must be called exactly once after Init.
func Activate() *kernel.Error {
	switch {
	case !built:
		return errTablesNotBuilt
	case active:
		return errTablesActive
	}

	switchPDTFn(Root())
	active = true
	return nil
}

// Root returns the physical address of the top-level table.
func Root() uintptr {
	return tables().l4.Addr()
}

// Translate returns the physical address that corresponds to virtAddr by
// walking the identity map tables. It returns ErrInvalidMapping if virtAddr
// is not mapped.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		physAddr uintptr
		err      = ErrInvalidMapping
	)

	walk(Root(), virtAddr, func(pteLevel uint8, pte *Entry) bool {
		switch {
		case !pte.HasFlags(FlagPresent):
			return false
		case pteLevel == hugePageLevel && pte.HasFlags(FlagHugePage):
			physAddr = pte.Address() + virtAddr&(mm.HugePageSize-1)
		case pteLevel == pageLevels-1:
			physAddr = pte.Address() + virtAddr&(mm.PageSize-1)
		default:
			return true
		}

		err = nil
		return false
	})

	return physAddr, err
}

// DumpTo writes the decoded level-4 and level-3 entries in use together with
// the first l2Count entries of the first level-2 table to w.
func DumpTo(w io.Writer, l2Count int) {
	tree := tables()

	kfmt.Fprintf(w, "L4 addr: 0x%x\n", tree.l4.Addr())
	dumpEntry(w, "L4", 0, tree.l4[0])

	kfmt.Fprintf(w, "L3 addr: 0x%x\n", tree.l3.Addr())
	for i := 0; i < len(tree.l2); i++ {
		dumpEntry(w, "L3", i, tree.l3[i])
	}

	kfmt.Fprintf(w, "L2 addr: 0x%x\n", tree.l2[0].Addr())
	for i := 0; i < l2Count && i < entriesPerTable; i++ {
		dumpEntry(w, "L2", i, tree.l2[0][i])
	}
}

func dumpEntry(w io.Writer, level string, index int, pte Entry) {
	kfmt.Fprintf(w, "%s entry %3d: ", level, index)
	pte.DumpTo(w)
	kfmt.Fprintf(w, "\n")
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *Entry) bool

// walk performs a page table walk for the given virtual address starting at
// the table located at rootAddr. It calls the supplied walkFn with the page
// table entry that corresponds to each page table level.
func walk(rootAddr, virtAddr uintptr, walkFn pageTableWalker) {
	var (
		entryIndex uintptr
		pte        *Entry
		tableAddr  = rootAddr
	)

	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		pte = (*Entry)(ptePtrFn(tableAddr + (entryIndex << mm.PointerShift)))

		if !walkFn(level, pte) {
			return
		}

		tableAddr = pte.Address()
	}
}
