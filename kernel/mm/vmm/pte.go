package vmm

import (
	"io"
	"kboot/kernel"
	"kboot/kernel/kfmt"
	"kboot/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errMisalignedAddress = &kernel.Error{Module: "vmm", Message: "entry address is not aligned to the required boundary"}
	errAddressTooLarge   = &kernel.Error{Module: "vmm", Message: "entry address exceeds the maximum physical address"}
	errFlagsOverlapAddr  = &kernel.Error{Module: "vmm", Message: "entry flags overlap the address bits"}

	flagNames = []struct {
		flag EntryFlag
		name string
	}{
		{FlagPresent, "P"},
		{FlagRW, "RW"},
		{FlagUserAccessible, "US"},
		{FlagWriteThroughCaching, "PWT"},
		{FlagDoNotCache, "PCD"},
		{FlagAccessed, "A"},
		{FlagDirty, "D"},
		{FlagHugePage, "PS"},
		{FlagGlobal, "G"},
		{FlagNoExecute, "NX"},
	}
)

// EntryFlag describes a flag that can be applied to a page table entry.
type EntryFlag uint64

// Entry describes a page table entry. An entry encodes a 4 KiB aligned
// physical address (either of a child table or of the mapped region) in bits
// 12-51 and a set of flags in the remaining bits. Since the address is always
// aligned, the flag bits can be XOR'd out to recover it.
type Entry uint64

// NewLeafEntry returns a terminal entry mapping physAddr. When flags include
// FlagHugePage, physAddr must be aligned to mm.HugePageSize; otherwise it must
// be aligned to mm.PageSize.
func NewLeafEntry(physAddr uintptr, flags EntryFlag) (Entry, *kernel.Error) {
	align := mm.PageSize
	if flags&FlagHugePage != 0 {
		align = mm.HugePageSize
	}

	return newEntry(physAddr, align, flags)
}

// NewTableEntry returns an entry pointing to the child table located at
// tableAddr which must be aligned to mm.PageSize.
func NewTableEntry(tableAddr uintptr, flags EntryFlag) (Entry, *kernel.Error) {
	return newEntry(tableAddr, mm.PageSize, flags&^FlagHugePage)
}

func newEntry(addr, align uintptr, flags EntryFlag) (Entry, *kernel.Error) {
	switch {
	case !mm.IsAligned(addr, align):
		return 0, errMisalignedAddress
	case uint64(addr) >= maxPhysAddr:
		return 0, errAddressTooLarge
	case uint64(flags)&ptePhysPageMask != 0:
		return 0, errFlagsOverlapAddr
	}

	return Entry(uint64(addr) | uint64(flags)), nil
}

// HasFlags returns true if this entry has all the input flags set.
func (pte Entry) HasFlags(flags EntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// Flags returns the flag bits of this entry.
func (pte Entry) Flags() EntryFlag {
	return EntryFlag(uint64(pte) &^ ptePhysPageMask)
}

// Address returns the physical address encoded by this entry.
func (pte Entry) Address() uintptr {
	return uintptr(uint64(pte) ^ uint64(pte.Flags()))
}

// DumpTo outputs a decoded version of the entry to w.
func (pte Entry) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "addr=0x%16x flags=", pte.Address())

	sep := ""
	for _, fl := range flagNames {
		if !pte.HasFlags(fl.flag) {
			continue
		}
		kfmt.Fprintf(w, "%s%s", sep, fl.name)
		sep = "|"
	}

	if sep == "" {
		kfmt.Fprintf(w, "-")
	}
}
