package gate

import (
	"kboot/kernel"
	"kboot/kernel/cpu"
	"kboot/kernel/gdt"
	"kboot/kernel/kfmt"
	"unsafe"
)

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// Debug occurs on single-step traps and debug register matches.
	Debug = InterruptNumber(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Breakpoint occurs when the CPU executes the INT3 instruction. The
	// saved RIP points to the instruction following INT3.
	Breakpoint = InterruptNumber(3)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// ControlProtection occurs on control flow enforcement violations.
	ControlProtection = InterruptNumber(21)

	// VMMCommunication and Security are raised by virtualization
	// extensions and push an error code.
	VMMCommunication = InterruptNumber(29)
	Security         = InterruptNumber(30)
)

const (
	// VectorCount is the number of IDT entries.
	VectorCount = 256

	// EntryStubSize is the size in bytes of each generated gate entry
	// stub. Stub n starts at gateEntries + n*EntryStubSize.
	EntryStubSize = 8

	gateTypeInterrupt = uint64(0xe) << 40
	gatePresent       = uint64(1) << 47
	gateISTMask       = uint64(7) << 32
	gateISTShift      = 32
)

var (
	log = kfmt.PrefixWriter{Prefix: []byte("[gate] ")}

	errSegmentsNotReady   = &kernel.Error{Module: "gate", Message: "code segment selector not installed"}
	errAlreadyInitialized = &kernel.Error{Module: "gate", Message: "interrupt descriptor table already installed"}
	errInvalidISTOffset   = &kernel.Error{Module: "gate", Message: "interrupt stack table offset out of range"}
	errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}
	errDoubleFault        = &kernel.Error{Module: "gate", Message: "double fault"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	codeSelectorFn    = gdt.CodeSelector
	loadIDTFn         = cpu.LoadIDT
	gateEntriesAddrFn = gateEntriesAddr
	panicFn           = kfmt.Panic

	idt      [VectorCount]gateDescriptor
	idtPtr   cpu.TablePointer
	handlers [VectorCount]func(*Registers)
	gateIST  [VectorCount]uint8

	// codeSelector is the CS value embedded in every gate; 0 until Init.
	codeSelector uint16
	installed    bool
)

// gateDescriptor is a 16-byte 64-bit interrupt gate.
type gateDescriptor [2]uint64

// newGate returns a present, ring 0 interrupt gate for the handler at
// offset. An ist value of 0 keeps the current stack; values 1-7 select an
// interrupt stack table entry.
func newGate(offset uintptr, selector uint16, ist uint8) gateDescriptor {
	off := uint64(offset)
	return gateDescriptor{
		off&0xffff |
			uint64(selector)<<16 |
			(uint64(ist)<<gateISTShift)&gateISTMask |
			gateTypeInterrupt |
			gatePresent |
			(off>>16)&0xffff<<48,
		off >> 32,
	}
}

func (g gateDescriptor) offset() uintptr {
	return uintptr(g[0]&0xffff | (g[0]>>48)<<16 | g[1]<<32)
}

func (g gateDescriptor) selector() uint16 {
	return uint16(g[0] >> 16)
}

func (g gateDescriptor) ist() uint8 {
	return uint8((g[0] & gateISTMask) >> gateISTShift)
}

func (g gateDescriptor) present() bool {
	return g[0]&gatePresent != 0
}

// PushesErrorCode returns true if the CPU pushes an error code to the
// stack before invoking the gate for num. The entry stubs of all other
// vectors push a zero in its place so that Registers has the same layout
// for every vector.
func PushesErrorCode(num InterruptNumber) bool {
	switch num {
	case DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault,
		GPFException, PageFaultException, AlignmentCheck,
		ControlProtection, VMMCommunication, Security:
		return true
	}
	return false
}

// Init populates the IDT with a gate for every vector, installs the
// breakpoint and double fault handlers and loads the IDT. The descriptor
// table from package gdt must be installed before calling Init.
func Init() *kernel.Error {
	if installed {
		return errAlreadyInitialized
	}

	sel, ok := codeSelectorFn()
	if !ok {
		return errSegmentsNotReady
	}
	codeSelector = sel

	base := gateEntriesAddrFn()
	for vec := 0; vec < VectorCount; vec++ {
		idt[vec] = newGate(base+uintptr(vec*EntryStubSize), codeSelector, gateIST[vec])
	}
	installed = true

	HandleInterrupt(Breakpoint, 0, handleBreakpoint)
	HandleInterrupt(DoubleFault, gdt.DoubleFaultStackSlot+1, handleDoubleFault)

	idtPtr = cpu.NewTablePointer(uintptr(unsafe.Pointer(&idt)), unsafe.Sizeof(idt))
	loadIDTFn(&idtPtr)

	kfmt.Fprintf(&log, "installed %d gates; entry stubs at 0x%16x\n", VectorCount, base)
	return nil
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The value of the istOffset argument
// specifies the offset in the interrupt stack table (if 0 then IST is not
// used). Handlers run with maskable interrupts disabled. The handler
// returns to the interrupted code unless it halts; any changes it makes
// to the supplied Registers are applied on return.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) {
	if istOffset > gdt.InterruptStackSlots {
		panicFn(errInvalidISTOffset)
		return
	}

	handlers[intNumber] = handler
	gateIST[intNumber] = istOffset
	if installed {
		idt[intNumber] = newGate(gateEntriesAddrFn()+uintptr(intNumber)*EntryStubSize, codeSelector, istOffset)
	}
}

// dispatchInterrupt is invoked by the gate entry stubs to route an incoming
// interrupt to the registered handler.
func dispatchInterrupt(regs *Registers) {
	if handler := handlers[uint8(regs.Vector)]; handler != nil {
		handler(regs)
		return
	}

	kfmt.EnterPanicMode()
	kfmt.Fprintf(&log, "unhandled interrupt %d (error code: 0x%x)\n", regs.Vector, regs.Info)
	regs.DumpTo(&log)
	panicFn(errUnhandledInterrupt)
}

// handleBreakpoint logs the interrupted context and resumes execution at
// the instruction after INT3.
func handleBreakpoint(regs *Registers) {
	kfmt.Fprintf(&log, "BREAKPOINT at RIP 0x%16x\n", regs.RIP)
	regs.DumpTo(&log)
}

// handleDoubleFault runs on the isolated double fault stack. It logs the
// faulting context and halts. The fault may have interrupted a write to the
// diagnostic sink so the sink is switched to panic mode first.
func handleDoubleFault(regs *Registers) {
	kfmt.EnterPanicMode()
	kfmt.Fprintf(&log, "DOUBLE FAULT at RIP 0x%16x RFLAGS 0x%16x\n", regs.RIP, regs.RFlags)
	regs.DumpTo(&log)
	panicFn(errDoubleFault)
}

// gateEntries contains VectorCount generated entry stubs of EntryStubSize
// bytes each. Stubs for vectors without a CPU-pushed error code push a
// zero before calling gateCommon; gateCommon derives the vector number
// from its return address.
func gateEntries()

// gateCommon saves the general purpose registers, calls dispatchInterrupt
// and returns from the interrupt.
func gateCommon()

// gateEntriesAddr returns the address of the first entry stub.
func gateEntriesAddr() uintptr
