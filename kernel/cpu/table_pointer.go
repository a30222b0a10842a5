package cpu

import "encoding/binary"

// TablePointer is the 10-byte operand of the LGDT and LIDT instructions: a
// 16-bit limit (the table size in bytes minus one) followed by the 64-bit
// linear address of the table.
type TablePointer [10]byte

// NewTablePointer returns a TablePointer for a table of size bytes located
// at base.
func NewTablePointer(base uintptr, size uintptr) TablePointer {
	var ptr TablePointer
	binary.LittleEndian.PutUint16(ptr[0:2], uint16(size-1))
	binary.LittleEndian.PutUint64(ptr[2:10], uint64(base))
	return ptr
}

// Limit returns the table limit encoded in the pointer.
func (p *TablePointer) Limit() uint16 {
	return binary.LittleEndian.Uint16(p[0:2])
}

// Base returns the table address encoded in the pointer.
func (p *TablePointer) Base() uintptr {
	return uintptr(binary.LittleEndian.Uint64(p[2:10]))
}
