// Package irq routes the hardware interrupt lines of the chained PICs to
// registered handlers and acknowledges them.
package irq

import (
	"kboot/device/pic"
	"kboot/kernel"
	"kboot/kernel/gate"
	"kboot/kernel/kfmt"
	"sync/atomic"
)

// Handler is invoked with maskable interrupts disabled whenever its IRQ
// line fires. The line is acknowledged after the handler returns.
type Handler func(regs *gate.Registers)

var (
	log = kfmt.PrefixWriter{Prefix: []byte("[irq] ")}

	errInvalidVectorBase = &kernel.Error{Module: "irq", Message: "IRQ vector base must be a multiple of 8 outside the exception range"}
	errInvalidLine       = &kernel.Error{Module: "irq", Message: "IRQ line out of range"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	handleInterruptFn = gate.HandleInterrupt
	picInServiceFn    = pic.ReadInService
	picAcknowledgeFn  = pic.AcknowledgeInService

	vectorBase    uint8
	handlers      [pic.LineCount]Handler
	spuriousCount uint64
)

const firstExternalVector = 0x20

// Init installs gates for the 16 vectors starting at base. base must match
// the vector range the PICs are remapped to.
func Init(base uint8) *kernel.Error {
	if base < firstExternalVector || base%8 != 0 || int(base)+pic.LineCount > gate.VectorCount {
		return errInvalidVectorBase
	}

	vectorBase = base
	for line := uint8(0); line < pic.LineCount; line++ {
		handleInterruptFn(gate.InterruptNumber(base+line), 0, dispatch)
	}

	kfmt.Fprintf(&log, "routing IRQ lines 0-%d to vectors [0x%x, 0x%x)\n",
		pic.LineCount-1, base, int(base)+pic.LineCount)
	return nil
}

// HandleIRQ registers handler for IRQ line (0-15), replacing any previous
// handler. A nil handler leaves the line acknowledged but unhandled.
func HandleIRQ(line uint8, handler Handler) *kernel.Error {
	if line >= pic.LineCount {
		return errInvalidLine
	}

	handlers[line] = handler
	return nil
}

// SpuriousCount returns the number of spurious interrupts absorbed since
// boot.
func SpuriousCount() uint64 {
	return atomic.LoadUint64(&spuriousCount)
}

// dispatch is the gate handler for every IRQ vector. A vector whose line
// is not in service is spurious; it is acknowledged (the PIC driver only
// sends the EOIs the cascade requires) but never reaches the line handler.
// The in-service registers are read once per interrupt.
func dispatch(regs *gate.Registers) {
	var (
		vector    = uint8(regs.Vector)
		line      = (vector - vectorBase) % pic.LineCount
		inService = picInServiceFn()
	)

	if inService&(1<<line) == 0 {
		picAcknowledgeFn(vector, inService)
		atomic.AddUint64(&spuriousCount, 1)
		return
	}

	if handler := handlers[line]; handler != nil {
		handler(regs)
	}

	picAcknowledgeFn(vector, inService)
}
