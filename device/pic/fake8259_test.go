package pic

import "kboot/kernel/cpu"

// fake8259 is a behavioral model of a single 8259A. It tracks the
// initialization sequence, the IMR/IRR/ISR registers, the OCW3 read
// select and the number of EOI commands received.
type fake8259 struct {
	commandPort, dataPort uint16

	// nextICW is the initialization word expected by the next data port
	// write; 0 when the controller is operational.
	nextICW int

	vectorBase uint8
	icw3       uint8
	icw4       uint8

	imr, irr, isr uint8
	readISR       bool

	eoiCount int
}

func (c *fake8259) writeCommand(val uint8) {
	switch {
	case val&icw1Mandatory != 0:
		// ICW1 restarts initialization and clears the IMR.
		c.nextICW = 2
		c.imr = 0
		c.readISR = false
	case val&ocw3Mandatory != 0:
		if val&ocw3EnableRead != 0 {
			c.readISR = val&ocw3ReadISR != 0
		}
	case val == ocw2EOI:
		c.eoiCount++
		// Non-specific EOI retires the highest priority in-service line.
		for line := uint8(0); line < linesPerController; line++ {
			if c.isr&(1<<line) != 0 {
				c.isr &^= 1 << line
				break
			}
		}
	}
}

func (c *fake8259) writeData(val uint8) {
	switch c.nextICW {
	case 2:
		c.vectorBase = val
		c.nextICW = 3
	case 3:
		c.icw3 = val
		c.nextICW = 4
	case 4:
		c.icw4 = val
		c.nextICW = 0
	default:
		c.imr = val
	}
}

func (c *fake8259) readCommand() uint8 {
	if c.readISR {
		return c.isr
	}
	return c.irr
}

// fakePICs wires a master and a slave fake8259 to the port I/O hooks.
type fakePICs struct {
	master, slave fake8259
	ioWaits       int

	// order of port writes as "port:value" pairs.
	writes [][2]uint16
}

func newFakePICs() *fakePICs {
	return &fakePICs{
		master: fake8259{commandPort: masterCommandPort, dataPort: masterDataPort},
		slave:  fake8259{commandPort: slaveCommandPort, dataPort: slaveDataPort},
	}
}

func (f *fakePICs) portWriteByte(port uint16, val uint8) {
	f.writes = append(f.writes, [2]uint16{port, uint16(val)})
	for _, c := range []*fake8259{&f.master, &f.slave} {
		switch port {
		case c.commandPort:
			c.writeCommand(val)
		case c.dataPort:
			c.writeData(val)
		}
	}
}

func (f *fakePICs) portReadByte(port uint16) uint8 {
	for _, c := range []*fake8259{&f.master, &f.slave} {
		switch port {
		case c.commandPort:
			return c.readCommand()
		case c.dataPort:
			return c.imr
		}
	}
	return 0xff
}

// raise asserts IRQ line (0-15) and, if it is unmasked, delivers it to the
// CPU by moving it from IRR to ISR the way an INTA cycle does. It returns
// the vector the CPU would dispatch and whether delivery took place.
func (f *fakePICs) raise(line uint8) (uint8, bool) {
	if line < linesPerController {
		bit := uint8(1 << line)
		f.master.irr |= bit
		if f.master.imr&bit != 0 || f.master.isr&bit != 0 {
			return 0, false
		}
		f.master.irr &^= bit
		f.master.isr |= bit
		return f.master.vectorBase + line, true
	}

	slaveLine := line - linesPerController
	bit := uint8(1 << slaveLine)
	f.slave.irr |= bit
	if f.slave.imr&bit != 0 || f.slave.isr&bit != 0 || f.master.imr&(1<<cascadeLine) != 0 {
		return 0, false
	}
	f.slave.irr &^= bit
	f.slave.isr |= bit
	f.master.isr |= 1 << cascadeLine
	return f.slave.vectorBase + slaveLine, true
}

// raiseSpurious emulates a line that was deasserted before the INTA cycle
// completed: the vector is dispatched but the owning controller never sets
// the ISR bit. For slave lines the master still services its cascade input.
func (f *fakePICs) raiseSpurious(line uint8) uint8 {
	if line < linesPerController {
		return f.master.vectorBase + line
	}

	f.master.isr |= 1 << cascadeLine
	return f.slave.vectorBase + line - linesPerController
}

// install points the package hooks and the controller singleton to the fake
// and returns a function that restores them.
func (f *fakePICs) install() func() {
	origPICs := pics
	portWriteByteFn = f.portWriteByte
	portReadByteFn = f.portReadByte
	ioWaitFn = func() { f.ioWaits++ }
	lockFn = func() {}
	unlockFn = func() {}

	return func() {
		pics = origPICs
		portWriteByteFn = cpu.PortWriteByte
		portReadByteFn = cpu.PortReadByte
		ioWaitFn = cpu.IOWait
		lockFn = acquireLock
		unlockFn = releaseLock
	}
}
