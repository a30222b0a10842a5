package kfmt

import (
	"kboot/kernel"
	"kboot/kernel/cpu"
)

const panicDelimiter = "\n-----------------------------------\n"

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic switches the diagnostic sink to panic mode, outputs the supplied
// error (if not nil) and halts the CPU. Calls to Panic never return. Panic
// may be called from any interrupt handler, including while the interrupted
// code holds the sink lock.
//
// Panic also serves as the redirection target for calls to panic() (resolved
// via runtime.gopanic).
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	EnterPanicMode()

	var err *kernel.Error
	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	locked := lockSink()
	fprintf(outputSink, panicDelimiter)
	if err != nil {
		fprintf(outputSink, "[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	fprintf(outputSink, "*** kernel panic: system halted ***")
	fprintf(outputSink, panicDelimiter)
	unlockSink(locked)

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
