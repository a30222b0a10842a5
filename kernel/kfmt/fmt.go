package kfmt

import (
	"io"
	"kboot/kernel/sync"
	"sync/atomic"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers. It must be
// large enough to hold a 64-bit value printed in base 2 plus a sign.
const maxBufSize = 66

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf [maxBufSize]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer is a ring buffer that stores Printf output until a
	// diagnostic sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// sinkLock guards outputSink, earlyPrintBuffer and the formatting
	// buffers above. It is shared by foreground code and interrupt
	// handlers.
	sinkLock sync.IRQSpinlock

	// panicking is set by EnterPanicMode. Once set, writers that find
	// sinkLock held proceed without it.
	panicking uint32
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	locked := lockSink()
	outputSink = w
	if w != nil {
		earlyPrintBuffer.WriteTo(w)
	}
	unlockSink(locked)
}

// EnterPanicMode prepares the diagnostic sink for output from a fatal path.
// The code that was interrupted may hold the sink lock and will never run
// again, so from this point on a writer that cannot acquire the lock
// immediately writes without it. EnterPanicMode is invoked by Panic and
// must be invoked by fatal handlers before they print.
func EnterPanicMode() {
	atomic.StoreUint32(&panicking, 1)
}

// lockSink acquires sinkLock and reports whether it is held by the caller.
func lockSink() bool {
	if atomic.LoadUint32(&panicking) != 0 {
		return sinkLock.TryToAcquire()
	}

	sinkLock.Acquire()
	return true
}

func unlockSink(locked bool) {
	if locked {
		sinkLock.Release()
	}
}

// GetOutputSink returns the io.Writer that Printf currently writes to. If no
// sink has been attached, the early ring buffer is returned instead.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}

	return outputSink
}

// Printf provides a minimal Printf implementation that can be safely used
// from interrupt handlers and before any allocator is available. This
// implementation does not allocate any memory.
//
// The following subset of formatting verbs is supported:
//
//	%s the uninterpreted bytes of a string or byte slice
//	%b base 2
//	%o base 8
//	%d base 10
//	%x base 16, with lower-case letters for a-f
//	%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb. Strings and base-10 integers are left-padded with spaces; base 2, 8
// and 16 integers are left-padded with zeroes.
//
// Printf does not check whether its arguments implement io.Stringer and does
// not support %p as both would require reflection.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. Output from concurrent callers (foreground code
// and interrupt handlers) is never interleaved. w must not call
// Printf or Fprintf.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	locked := lockSink()
	fprintf(w, format, args...)
	unlockSink(locked)
}

func fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			// passing a format substring to doWrite triggers an
			// allocation so we need to do this one byte at a time.
			writeByte(w, format[i])
			continue
		}

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'b', 'o', 'd', 'x', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		switch verb {
		case 'b':
			fmtInt(w, args[argIndex], 2, width)
		case 'o':
			fmtInt(w, args[argIndex], 8, width)
		case 'd':
			fmtInt(w, args[argIndex], 10, width)
		case 'x':
			fmtInt(w, args[argIndex], 16, width)
		case 's':
			fmtString(w, args[argIndex], width)
		case 't':
			fmtBool(w, args[argIndex])
		}
		argIndex++
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func writeByte(w io.Writer, ch byte) {
	singleByte[0] = ch
	doWrite(w, singleByte)
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by width.
func fmtString(w io.Writer, v interface{}, width int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(castedVal))
		for i := 0; i < len(castedVal); i++ {
			writeByte(w, castedVal[i])
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(castedVal))
		doWrite(w, castedVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		writeByte(w, ch)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by width. All built-in signed and unsigned integer
// types are supported.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		uval     uint64
		negative bool
	)

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		uval, negative = abs(int64(t))
	case int16:
		uval, negative = abs(int64(t))
	case int32:
		uval, negative = abs(int64(t))
	case int64:
		uval, negative = abs(t)
	case int:
		uval, negative = abs(int64(t))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	if width > maxBufSize-1 {
		width = maxBufSize - 1
	}

	// Digits are written right-to-left starting at the end of the buffer.
	start := maxBufSize
	for {
		start--
		numFmtBuf[start] = "0123456789abcdef"[uval%base]
		uval /= base
		if uval == 0 {
			break
		}
	}

	// Zero padding goes between the sign and the digits while space
	// padding goes before the sign.
	digits := maxBufSize - start
	if negative && padCh == '0' {
		width--
	}
	if padCh == '0' {
		for ; digits < width; digits++ {
			start--
			numFmtBuf[start] = '0'
		}
	}
	if negative {
		start--
		numFmtBuf[start] = '-'
		digits++
	}
	for ; digits < width; digits++ {
		start--
		numFmtBuf[start] = ' '
	}

	doWrite(w, numFmtBuf[start:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without this hack, the compiler cannot detect
// that p does not escape (due to the call to the yet unknown outputSink
// io.Writer) and flags it as escaping, which turns every call to Printf into
// a heap allocation.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
