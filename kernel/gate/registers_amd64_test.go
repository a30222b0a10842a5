package gate

import (
	"bytes"
	"testing"
	"unsafe"
)

func TestRegistersLayout(t *testing.T) {
	var regs Registers

	specs := []struct {
		field     string
		offset    uintptr
		expOffset uintptr
	}{
		{"RAX", unsafe.Offsetof(regs.RAX), 0},
		{"R15", unsafe.Offsetof(regs.R15), 112},
		{"Vector", unsafe.Offsetof(regs.Vector), 120},
		{"Info", unsafe.Offsetof(regs.Info), 128},
		{"RIP", unsafe.Offsetof(regs.RIP), 136},
		{"SS", unsafe.Offsetof(regs.SS), 168},
	}

	for specIndex, spec := range specs {
		if spec.offset != spec.expOffset {
			t.Errorf("[spec %d] expected field %s at offset %d; got %d", specIndex, spec.field, spec.expOffset, spec.offset)
		}
	}

	if exp, got := uintptr(176), unsafe.Sizeof(regs); got != exp {
		t.Errorf("expected Registers size %d; got %d", exp, got)
	}
}

func TestRegistersDumpTo(t *testing.T) {
	regs := Registers{
		RAX:    1,
		RBX:    2,
		RCX:    3,
		RDX:    4,
		RSI:    5,
		RDI:    6,
		RBP:    7,
		R8:     8,
		R9:     9,
		R10:    10,
		R11:    11,
		R12:    12,
		R13:    13,
		R14:    14,
		R15:    15,
		Vector: 16,
		Info:   17,
		RIP:    18,
		CS:     19,
		RFlags: 20,
		RSP:    21,
		SS:     22,
	}

	var buf bytes.Buffer
	regs.DumpTo(&buf)

	exp := "RAX = 0000000000000001 RBX = 0000000000000002\nRCX = 0000000000000003 RDX = 0000000000000004\nRSI = 0000000000000005 RDI = 0000000000000006\nRBP = 0000000000000007\nR8  = 0000000000000008 R9  = 0000000000000009\nR10 = 000000000000000a R11 = 000000000000000b\nR12 = 000000000000000c R13 = 000000000000000d\nR14 = 000000000000000e R15 = 000000000000000f\n\nRIP = 0000000000000012 CS  = 0000000000000013\nRSP = 0000000000000015 SS  = 0000000000000016\nRFL = 0000000000000014 VEC = 0000000000000010\nERR = 0000000000000011\n"

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}
