package gdt

import "kboot/kernel"

const (
	// InterruptStackSlots is the number of interrupt stack table entries.
	InterruptStackSlots = 7

	istWordOffset      = 9
	ioMapBaseWordIndex = 25
)

var errInvalidStackSlot = &kernel.Error{Module: "gdt", Message: "interrupt stack table slot out of range"}

// TaskStateSegment is the 104-byte 64-bit TSS. Hardware task switching is
// not available in long mode; the TSS only provides the stack pointers the
// CPU loads on privilege changes and on interrupt stack table switches.
// Everything runs in ring 0 so only the interrupt stack table is used.
//
// The 64-bit fields of the TSS are only 4-byte aligned so the structure is
// modeled as an array of 32-bit words.
type TaskStateSegment [26]uint32

// SetInterruptStack sets the stack pointer for interrupt stack table entry
// slot (0-6). The CPU refers to slot n as IST n+1 since an IST index of 0
// in a gate descriptor means "do not switch stacks".
func (t *TaskStateSegment) SetInterruptStack(slot int, top uintptr) *kernel.Error {
	if slot < 0 || slot >= InterruptStackSlots {
		return errInvalidStackSlot
	}

	t.setQuad(istWordOffset+2*slot, top)
	return nil
}

// InterruptStack returns the stack pointer for interrupt stack table entry
// slot.
func (t *TaskStateSegment) InterruptStack(slot int) uintptr {
	if slot < 0 || slot >= InterruptStackSlots {
		return 0
	}

	return t.quad(istWordOffset + 2*slot)
}

// SetIOMapBase sets the offset of the I/O permission bitmap. An offset
// equal to or larger than the TSS limit means that no bitmap is present.
func (t *TaskStateSegment) SetIOMapBase(offset uint16) {
	t[ioMapBaseWordIndex] = uint32(offset) << 16
}

// IOMapBase returns the offset of the I/O permission bitmap.
func (t *TaskStateSegment) IOMapBase() uint16 {
	return uint16(t[ioMapBaseWordIndex] >> 16)
}

func (t *TaskStateSegment) setQuad(word int, val uintptr) {
	t[word] = uint32(val)
	t[word+1] = uint32(uint64(val) >> 32)
}

func (t *TaskStateSegment) quad(word int) uintptr {
	return uintptr(uint64(t[word]) | uint64(t[word+1])<<32)
}
