package cpu

const (
	// flagInterruptEnable is the RFLAGS.IF bit.
	flagInterruptEnable = uint64(1 << 9)

	// flagIOPrivilegeShift is the offset of the 2-bit RFLAGS.IOPL field.
	flagIOPrivilegeShift = 12

	// ioDelayPort is an unused port whose writes take roughly 1us to
	// complete. It is used to give slow devices time to latch a value.
	ioDelayPort = uint16(0x80)
)

var (
	readFlagsFn     = ReadFlags
	codeSegmentFn   = CodeSegment
	portWriteByteFn = PortWriteByte
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution. Calls to Halt
// never return.
func Halt()

// WaitForInterrupt stops instruction execution until the next interrupt
// arrives.
func WaitForInterrupt()

// ReadFlags returns the contents of the RFLAGS register.
func ReadFlags() uint64

// InterruptsEnabled returns true if maskable interrupts are currently
// enabled.
func InterruptsEnabled() bool {
	return readFlagsFn()&flagInterruptEnable != 0
}

// CanMaskInterrupts returns true if the current privilege level may execute
// CLI and STI, which requires CPL <= IOPL. It is always true for ring 0.
func CanMaskInterrupts() bool {
	cpl := uint64(codeSegmentFn() & 3)
	return cpl <= (readFlagsFn()>>flagIOPrivilegeShift)&3
}

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// LoadGDT loads the global descriptor table register from ptr.
func LoadGDT(ptr *TablePointer)

// LoadIDT loads the interrupt descriptor table register from ptr.
func LoadIDT(ptr *TablePointer)

// LoadTaskRegister loads the task register with the supplied TSS selector.
func LoadTaskRegister(selector uint16)

// SetCodeSegment reloads CS with the supplied selector using a far return.
func SetCodeSegment(selector uint16)

// CodeSegment returns the value of the CS register.
func CodeSegment() uint16

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// IOWait blocks for a short amount of time by writing to an unused port.
func IOWait() {
	portWriteByteFn(ioDelayPort, 0)
}
