package kmain

import (
	"kboot/device/pic"
	"kboot/kernel"
	"kboot/kernel/cpu"
	"kboot/kernel/gate"
	"kboot/kernel/gdt"
	"kboot/kernel/hal"
	"kboot/kernel/irq"
	"kboot/kernel/kfmt"
	"kboot/kernel/mm/vmm"
	"sync/atomic"
)

const (
	timerLine    = 0
	keyboardLine = 1

	// keyboardDataPort must be read for the keyboard controller to raise
	// the next IRQ 1.
	keyboardDataPort = uint16(0x60)
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	vmmInitFn          = vmm.Init
	vmmActivateFn      = vmm.Activate
	gdtInitFn          = gdt.Init
	gateInitFn         = gate.Init
	irqInitFn          = irq.Init
	irqHandleFn        = irq.HandleIRQ
	detectHardwareFn   = hal.DetectHardware
	enableInterruptsFn = cpu.EnableInterrupts
	waitForInterruptFn = cpu.WaitForInterrupt
	portReadByteFn     = cpu.PortReadByte
	panicFn            = kfmt.Panic

	timerTicks   uint64
	keyPresses   uint64
	lastScanCode uint32
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked by the rt0 assembly code once the CPU
// runs in 64-bit mode on a minimal stack.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain() {
	if err := boot(); err != nil {
		panicFn(err)
		return
	}

	for {
		waitForInterruptFn()
	}
}

// boot brings up the control plane. Segments must be installed before
// interrupt gates since the gates embed the kernel code selector, and
// interrupts are only enabled once the PICs have been remapped away from
// the CPU exception vectors.
func boot() *kernel.Error {
	var err *kernel.Error
	if err = vmmInitFn(); err != nil {
		return err
	} else if err = vmmActivateFn(); err != nil {
		return err
	} else if err = gdtInitFn(); err != nil {
		return err
	} else if err = gateInitFn(); err != nil {
		return err
	} else if err = irqInitFn(pic.DefaultVectorBase); err != nil {
		return err
	} else if err = irqHandleFn(timerLine, onTimerTick); err != nil {
		return err
	} else if err = irqHandleFn(keyboardLine, onKeyboard); err != nil {
		return err
	}

	// Runs the PIC driver which remaps the IRQ vectors and unmasks the
	// timer and keyboard lines.
	detectHardwareFn()

	enableInterruptsFn()
	kfmt.Printf("[kmain] interrupts enabled\n")
	return nil
}

func onTimerTick(_ *gate.Registers) {
	atomic.AddUint64(&timerTicks, 1)
}

func onKeyboard(_ *gate.Registers) {
	atomic.StoreUint32(&lastScanCode, uint32(portReadByteFn(keyboardDataPort)))
	atomic.AddUint64(&keyPresses, 1)
}

// KeyPresses returns the number of keyboard interrupts received.
func KeyPresses() uint64 {
	return atomic.LoadUint64(&keyPresses)
}

// Ticks returns the number of timer interrupts received since interrupts
// were enabled.
func Ticks() uint64 {
	return atomic.LoadUint64(&timerTicks)
}
