// Package pic drives the pair of cascaded 8259A programmable interrupt
// controllers found on PC-compatible machines.
package pic

import (
	"kboot/kernel"
	"kboot/kernel/cpu"
	"kboot/kernel/sync"
)

const (
	// linesPerController is the number of IRQ inputs on each 8259A.
	linesPerController = 8

	// LineCount is the number of IRQ lines served by the chained pair.
	LineCount = 2 * linesPerController

	masterCommandPort = uint16(0x20)
	masterDataPort    = uint16(0x21)
	slaveCommandPort  = uint16(0xa0)
	slaveDataPort     = uint16(0xa1)

	// ICW1 bits. The mandatory bit marks the write to the command port
	// as the start of the initialization sequence.
	icw1ICW4Needed = uint8(1 << 0)
	icw1Mandatory  = uint8(1 << 4)

	// cascadeLine is the master input the slave is wired to. The master
	// receives it as a bitmask in ICW3 and the slave as its identity.
	cascadeLine = uint8(2)

	// ICW4 bits.
	icw4Intel8086 = uint8(1 << 0)

	// ocw2EOI is the non-specific end-of-interrupt command.
	ocw2EOI = uint8(0x20)

	// OCW3 bits. The next read from the command port returns the ISR
	// when ocw3ReadISR is set and the IRR otherwise.
	ocw3ReadISR    = uint8(1 << 0)
	ocw3EnableRead = uint8(1 << 1)
	ocw3Mandatory  = uint8(1 << 3)

	ocw3ReadIRRCmd = ocw3EnableRead | ocw3Mandatory
	ocw3ReadISRCmd = ocw3ReadISR | ocw3EnableRead | ocw3Mandatory

	// Power-on vector ranges programmed by the BIOS.
	biosMasterVectorBase = uint8(0x08)
	biosSlaveVectorBase  = uint8(0x70)
)

var (
	errBadVectorRange       = &kernel.Error{Module: "pic", Message: "vector range must contain exactly 16 vectors"}
	errMisalignedVectorBase = &kernel.Error{Module: "pic", Message: "vector range must start at a multiple of 8"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	ioWaitFn        = cpu.IOWait
	lockFn          = acquireLock
	unlockFn        = releaseLock

	// lock serializes access to the controller ports. Status reads are a
	// command write followed by a command port read and must not be
	// interleaved with another caller.
	lock sync.IRQSpinlock

	// pics is the one pair of controllers present in the machine.
	pics = chainedPICs{
		master: controller{
			vectorBase:  biosMasterVectorBase,
			commandPort: masterCommandPort,
			dataPort:    masterDataPort,
		},
		slave: controller{
			vectorBase:  biosSlaveVectorBase,
			commandPort: slaveCommandPort,
			dataPort:    slaveDataPort,
		},
	}
)

func acquireLock() { lock.Acquire() }
func releaseLock() { lock.Release() }

// controller describes a single 8259A which owns the vectors in
// [vectorBase, vectorBase+8).
type controller struct {
	vectorBase  uint8
	commandPort uint16
	dataPort    uint16
}

// line returns the controller input that raises vector.
func (c *controller) line(vector uint8) (uint8, bool) {
	if vector < c.vectorBase || int(vector) >= int(c.vectorBase)+linesPerController {
		return 0, false
	}

	return vector - c.vectorBase, true
}

// chainedPICs is a master controller with a slave cascaded through
// cascadeLine.
type chainedPICs struct {
	master controller
	slave  controller
}

func (p *chainedPICs) remap(start, end uint8) *kernel.Error {
	if int(end)-int(start) != LineCount {
		return errBadVectorRange
	}

	if start%linesPerController != 0 {
		return errMisalignedVectorBase
	}

	p.master.vectorBase = start
	p.slave.vectorBase = start + linesPerController

	mask := p.mask()

	p.writeCommand(icw1ICW4Needed | icw1Mandatory)
	p.writeData(p.master.vectorBase, p.slave.vectorBase)
	p.writeData(1<<cascadeLine, cascadeLine)
	p.writeData(icw4Intel8086, icw4Intel8086)

	p.setMask(mask)
	return nil
}

// writeCommand sends cmd to both command ports.
func (p *chainedPICs) writeCommand(cmd uint8) {
	portWriteByteFn(p.master.commandPort, cmd)
	ioWaitFn()
	portWriteByteFn(p.slave.commandPort, cmd)
	ioWaitFn()
}

// writeData sends the next initialization word to each controller.
func (p *chainedPICs) writeData(masterVal, slaveVal uint8) {
	portWriteByteFn(p.master.dataPort, masterVal)
	ioWaitFn()
	portWriteByteFn(p.slave.dataPort, slaveVal)
	ioWaitFn()
}

// readCommand combines the command port reads of both controllers.
func (p *chainedPICs) readCommand() uint16 {
	return uint16(portReadByteFn(p.master.commandPort)) |
		uint16(portReadByteFn(p.slave.commandPort))<<8
}

func (p *chainedPICs) mask() uint16 {
	return uint16(portReadByteFn(p.master.dataPort)) |
		uint16(portReadByteFn(p.slave.dataPort))<<8
}

func (p *chainedPICs) setMask(mask uint16) {
	portWriteByteFn(p.master.dataPort, uint8(mask))
	portWriteByteFn(p.slave.dataPort, uint8(mask>>8))
}

func (p *chainedPICs) readPending() uint16 {
	p.writeCommand(ocw3ReadIRRCmd)
	return p.readCommand()
}

func (p *chainedPICs) readInService() uint16 {
	p.writeCommand(ocw3ReadISRCmd)
	return p.readCommand()
}

func (p *chainedPICs) irq(vector uint8) (uint8, bool) {
	if line, ok := p.master.line(vector); ok {
		return line, true
	}

	if line, ok := p.slave.line(vector); ok {
		return line + linesPerController, true
	}

	return 0, false
}

func (p *chainedPICs) servicing(vector uint8) bool {
	line, ok := p.irq(vector)
	if !ok {
		return false
	}

	return p.readInService()&(1<<line) != 0
}

// acknowledge sends the EOI commands for vector. A spurious interrupt
// leaves its ISR bit clear. The slave must not see an EOI for it, otherwise
// the EOI would retire the next genuine slave interrupt. The master still
// needs an EOI for a spurious slave interrupt since its cascade input was
// really in service.
//
// isr holds both in-service registers, read while the interrupt for
// vector was being handled.
func (p *chainedPICs) acknowledge(vector uint8, isr uint16) {
	line, ok := p.irq(vector)
	if !ok {
		return
	}

	inService := isr&(1<<line) != 0
	fromSlave := line >= linesPerController

	if fromSlave || inService {
		portWriteByteFn(p.master.commandPort, ocw2EOI)
	}

	if fromSlave && inService {
		portWriteByteFn(p.slave.commandPort, ocw2EOI)
	}
}

// Remap reprograms the controllers so that IRQ lines 0-15 raise the vectors
// in [start, end). The range must contain exactly 16 vectors and start must
// be a multiple of 8; the master serves the lower half of the range. The
// interrupt mask in effect before the call is restored afterwards.
func Remap(start, end uint8) *kernel.Error {
	lockFn()
	defer unlockFn()

	return pics.remap(start, end)
}

// SetMask replaces the interrupt mask. Bit i set disables IRQ line i.
func SetMask(mask uint16) {
	lockFn()
	pics.setMask(mask)
	unlockFn()
}

// Mask returns the current interrupt mask.
func Mask() uint16 {
	lockFn()
	defer unlockFn()

	return pics.mask()
}

// MaskLine disables the specified IRQ line.
func MaskLine(line uint8) {
	if line >= LineCount {
		return
	}

	lockFn()
	pics.setMask(pics.mask() | 1<<line)
	unlockFn()
}

// UnmaskLine enables the specified IRQ line.
func UnmaskLine(line uint8) {
	if line >= LineCount {
		return
	}

	lockFn()
	pics.setMask(pics.mask() &^ (1 << line))
	unlockFn()
}

// ReadPending returns the interrupt request registers of both controllers
// with the master in the low byte.
func ReadPending() uint16 {
	lockFn()
	defer unlockFn()

	return pics.readPending()
}

// ReadInService returns the in-service registers of both controllers with
// the master in the low byte.
func ReadInService() uint16 {
	lockFn()
	defer unlockFn()

	return pics.readInService()
}

// IRQ returns the IRQ line (0-15) that raises vector. The second return
// value is false if vector does not belong to either controller.
func IRQ(vector uint8) (uint8, bool) {
	lockFn()
	defer unlockFn()

	return pics.irq(vector)
}

// HandlesInterrupt returns true if vector is raised by one of the
// controllers.
func HandlesInterrupt(vector uint8) bool {
	_, ok := IRQ(vector)
	return ok
}

// Servicing returns true if the in-service bit for the line that raises
// vector is set. A false result for a vector in the controller range
// identifies a spurious interrupt.
func Servicing(vector uint8) bool {
	lockFn()
	defer unlockFn()

	return pics.servicing(vector)
}

// Acknowledge signals the end of interrupt handling for vector so that its
// line may fire again. Spurious interrupts are detected by reading the
// in-service registers and only receive the EOIs the cascade requires.
func Acknowledge(vector uint8) {
	lockFn()
	pics.acknowledge(vector, pics.readInService())
	unlockFn()
}

// AcknowledgeInService behaves like Acknowledge but uses the in-service
// registers previously returned by ReadInService instead of reading them
// again. With maskable interrupts disabled the registers cannot change
// between the two calls, so an interrupt handler can classify the vector
// and acknowledge it with a single in-service read.
func AcknowledgeInService(vector uint8, inService uint16) {
	lockFn()
	pics.acknowledge(vector, inService)
	unlockFn()
}
