// Package sync provides busy-waiting synchronization primitives for code that
// runs without a scheduler.
package sync

import (
	"kboot/kernel/cpu"
	"sync/atomic"
)

const (
	// spinAttemptsBeforeYielding is the number of failed acquisition attempts
	// after which archAcquireSpinlock invokes yieldFn (if set).
	spinAttemptsBeforeYielding = 1024
)

var (
	// yieldFn is nil when running on bare metal. Tests set it to
	// runtime.Gosched so that spinning goroutines make progress.
	yieldFn func()

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	canMaskInterruptsFn = cpu.CanMaskInterrupts
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, spinAttemptsBeforeYielding)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock spins until state transitions from 0 to 1.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	for attempts := uint32(0); !atomic.CompareAndSwapUint32(state, 0, 1); attempts++ {
		if attempts < attemptsBeforeYielding {
			continue
		}

		if yieldFn != nil {
			yieldFn()
		}
		attempts = 0
	}
}

// IRQSpinlock is a Spinlock that can be shared between foreground code and
// interrupt handlers. Acquire disables maskable interrupts before spinning so
// that a handler can never interrupt the lock holder and spin on the same
// lock; Release restores the interrupt state observed by Acquire.
type IRQSpinlock struct {
	lock Spinlock

	// restoreInterrupts is set when interrupts were enabled prior to the
	// call to Acquire.
	restoreInterrupts bool
}

// Acquire disables interrupts and blocks until the lock is acquired.
func (l *IRQSpinlock) Acquire() {
	enabled := l.disableInterrupts()
	l.lock.Acquire()
	l.restoreInterrupts = enabled
}

// TryToAcquire disables interrupts and attempts to acquire the lock. If the
// lock is held elsewhere the interrupt state is restored and false is
// returned.
func (l *IRQSpinlock) TryToAcquire() bool {
	enabled := l.disableInterrupts()
	if !l.lock.TryToAcquire() {
		if enabled {
			enableInterruptsFn()
		}
		return false
	}

	l.restoreInterrupts = enabled
	return true
}

// disableInterrupts masks interrupts and reports whether they were enabled.
// Code running at a privilege level that cannot execute CLI (e.g. hosted
// tests) is never interrupted by a kernel handler so the lock alone
// suffices.
func (*IRQSpinlock) disableInterrupts() bool {
	if !interruptsEnabledFn() || !canMaskInterruptsFn() {
		return false
	}

	disableInterruptsFn()
	return true
}

// Release relinquishes the lock and re-enables interrupts if they were
// enabled when the lock was acquired.
func (l *IRQSpinlock) Release() {
	restore := l.restoreInterrupts
	l.restoreInterrupts = false
	l.lock.Release()

	if restore {
		enableInterruptsFn()
	}
}
