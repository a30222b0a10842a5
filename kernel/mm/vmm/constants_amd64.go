package vmm

import "kboot/kernel/mm"

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// hugePageLevel is the level whose terminal entries map mm.HugePageSize
	// regions when FlagHugePage is set.
	hugePageLevel = pageLevels - 2

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uint64(0x000ffffffffff000)

	// maxPhysAddr is the first address that cannot be encoded in an entry.
	maxPhysAddr = uint64(1 << 52)

	// entriesPerTable is the number of entries in a table of any level.
	entriesPerTable = 1 << 9
)

var (
	// pageLevelBits defines the number of virtual address bits that correspond to each
	// page level. For the amd64 architecture each PageLevel uses 9 bits which amounts to
	// 512 entries for each page level.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
		9,
		9,
	}

	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent EntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage marks a level-2 entry as a terminal 2 MiB mapping.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute EntryFlag = 1 << 63
)

const (
	// IdentityMapStart is the physical address mapped at virtual address 0.
	IdentityMapStart = uintptr(0)

	// IdentityMapSize is the size of the region mapped by the identity map.
	IdentityMapSize = uintptr(4 * mm.Gb)

	// l2TableSpan is the size of the region mapped by a full level-2 table.
	l2TableSpan = entriesPerTable * mm.HugePageSize

	// l2TableCount is the number of level-2 tables needed to map
	// IdentityMapSize bytes.
	l2TableCount = IdentityMapSize / l2TableSpan

	// tableFlags is applied to entries that point to a child table.
	tableFlags = FlagPresent | FlagRW

	// leafFlags is applied to every terminal 2 MiB entry.
	leafFlags = tableFlags | FlagHugePage
)

// IdentityMapSize must tile into whole level-2 tables.
var _ [0]struct{} = [IdentityMapSize % l2TableSpan]struct{}{}

// The level-2 tables must all be reachable from a single level-3 table.
var _ [entriesPerTable - l2TableCount]struct{}

// At least one level-2 table is required.
var _ [l2TableCount - 1]struct{}
