// Package gdt builds and installs the global descriptor table and the task
// state segment that provides an isolated stack for double faults.
package gdt

import (
	"kboot/kernel"
	"kboot/kernel/cpu"
	"kboot/kernel/kfmt"
	"kboot/kernel/mm"
	"unsafe"
)

const (
	// DoubleFaultStackSize is the size of the stack used by the double
	// fault handler.
	DoubleFaultStackSize = 16 * mm.Kb

	// DoubleFaultStackSlot is the interrupt stack table slot that points to
	// the double fault stack.
	DoubleFaultStackSlot = 0

	// stackAlign is the alignment the SysV ABI expects for stack tops.
	stackAlign = 16

	tableAlign = 8
)

// GDT layout. The TSS descriptor occupies two consecutive entries.
const (
	nullIndex = iota
	kernelCodeIndex
	tssLowIndex
	tssHighIndex
	entryCount
)

var (
	log = kfmt.PrefixWriter{Prefix: []byte("[gdt] ")}

	errAlreadyInitialized = &kernel.Error{Module: "gdt", Message: "descriptor table already installed"}
	errMisalignedTable    = &kernel.Error{Module: "gdt", Message: "descriptor table is not 8-byte aligned"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	loadGDTFn          = cpu.LoadGDT
	setCodeSegmentFn   = cpu.SetCodeSegment
	loadTaskRegisterFn = cpu.LoadTaskRegister

	// table is never written after Init loads it.
	table [entryCount]Descriptor
	tss   TaskStateSegment

	// tablePtr is a global; taking the address of a local would move it
	// to the heap.
	tablePtr cpu.TablePointer

	doubleFaultStack [DoubleFaultStackSize]byte

	installed bool
)

// Selector returns the segment selector for GDT entry index with the
// requested privilege level.
func Selector(index int, rpl uint16) uint16 {
	return uint16(index)<<3 | rpl&3
}

// CodeSelector returns the kernel code segment selector. The second return
// value is false until Init has installed the table.
func CodeSelector() (uint16, bool) {
	return Selector(kernelCodeIndex, 0), installed
}

// TaskSelector returns the selector of the TSS descriptor.
func TaskSelector() uint16 {
	return Selector(tssLowIndex, 0)
}

// doubleFaultStackTop returns the initial stack pointer of the double
// fault stack. Stacks grow downwards.
func doubleFaultStackTop() uintptr {
	end := uintptr(unsafe.Pointer(&doubleFaultStack[0])) + uintptr(len(doubleFaultStack))
	return end &^ (stackAlign - 1)
}

// buildTable populates a descriptor table with the null descriptor, the
// kernel code segment and a descriptor for the TSS at tssAddr.
func buildTable(tssAddr uintptr, tssLimit uint32) [entryCount]Descriptor {
	var t [entryCount]Descriptor
	t[nullIndex] = 0
	t[kernelCodeIndex] = KernelCode64
	t[tssLowIndex], t[tssHighIndex] = tssDescriptor(tssAddr, tssLimit)
	return t
}

// Init sets up the TSS with the double fault stack, loads the descriptor
// table, reloads CS and loads the task register. Init must run exactly once
// and before interrupt gates are installed since the gates reference the
// kernel code selector.
func Init() *kernel.Error {
	if installed {
		return errAlreadyInitialized
	}

	if err := tss.SetInterruptStack(DoubleFaultStackSlot, doubleFaultStackTop()); err != nil {
		return err
	}

	// Place the I/O map base past the limit; no I/O bitmap.
	tssSize := unsafe.Sizeof(tss)
	tss.SetIOMapBase(uint16(tssSize))

	table = buildTable(uintptr(unsafe.Pointer(&tss)), uint32(tssSize-1))

	tableAddr := uintptr(unsafe.Pointer(&table))
	if tableAddr&(tableAlign-1) != 0 {
		return errMisalignedTable
	}

	tablePtr = cpu.NewTablePointer(tableAddr, unsafe.Sizeof(table))
	loadGDTFn(&tablePtr)
	setCodeSegmentFn(Selector(kernelCodeIndex, 0))
	loadTaskRegisterFn(TaskSelector())
	installed = true

	kfmt.Fprintf(&log, "installed %d descriptors; double fault stack top: 0x%16x (IST %d)\n",
		entryCount, doubleFaultStackTop(), DoubleFaultStackSlot+1)
	return nil
}
