// Command imgcheck inspects a kernel image and verifies that each
// interrupt gate entry stub pushes the expected placeholder error code and
// calls the common gate handler.
//
// Usage:
//
//	imgcheck [-dis] kernel.elf
package main

import (
	"bufio"
	"debug/elf"
	"flag"
	"fmt"
	"io"
	"os"

	"kboot/kernel/gate"

	"golang.org/x/arch/x86/x86asm"
)

const (
	entriesSymbol = "kboot/kernel/gate.gateEntries"
	commonSymbol  = "kboot/kernel/gate.gateCommon"
	abi0Suffix    = ".abi0"

	stubsSize = gate.VectorCount * gate.EntryStubSize
)

// stubIssue describes an entry stub that does not have the expected
// layout.
type stubIssue struct {
	vector int
	msg    string
}

func (i stubIssue) String() string {
	return fmt.Sprintf("vector %d: %s", i.vector, i.msg)
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[imgcheck] error: %s\n", err.Error())
	os.Exit(1)
}

// symbolAddr returns the address of the named symbol. Functions written in
// assembly are emitted with an ABI suffix (e.g. "pkg.fn.abi0") which is also
// matched.
func symbolAddr(symbols []elf.Symbol, name string) (uint64, error) {
	for _, candidate := range []string{name, name + abi0Suffix} {
		for _, sym := range symbols {
			if sym.Name == candidate {
				return sym.Value, nil
			}
		}
	}

	return 0, fmt.Errorf("could not locate address of %q", name)
}

// readAt returns size bytes of the section contents mapped at addr.
func readAt(f *elf.File, addr uint64, size int) ([]byte, error) {
	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_NOBITS || addr < sec.Addr || addr+uint64(size) > sec.Addr+sec.Size {
			continue
		}

		data := make([]byte, size)
		if _, err := sec.ReadAt(data, int64(addr-sec.Addr)); err != nil {
			return nil, err
		}
		return data, nil
	}

	return nil, fmt.Errorf("address 0x%x is not backed by any section", addr)
}

// checkStubs decodes the entry stubs in code, which is loaded at base, and
// reports the stubs that do not match the layout expected by gateCommon at
// commonAddr.
func checkStubs(code []byte, base, commonAddr uint64) []stubIssue {
	var issues []stubIssue

	for vec := 0; vec < gate.VectorCount; vec++ {
		start := vec * gate.EntryStubSize
		if start+gate.EntryStubSize > len(code) {
			issues = append(issues, stubIssue{vec, "stub truncated"})
			continue
		}

		if msg := checkStub(code[start:start+gate.EntryStubSize], base+uint64(start), commonAddr, gate.PushesErrorCode(gate.InterruptNumber(vec))); msg != "" {
			issues = append(issues, stubIssue{vec, msg})
		}
	}

	return issues
}

// checkStub verifies a single stub loaded at pc and returns a description
// of the first mismatch or an empty string.
func checkStub(stub []byte, pc, commonAddr uint64, hasErrorCode bool) string {
	off := 0
	next := func() (x86asm.Inst, error) {
		inst, err := x86asm.Decode(stub[off:], 64)
		if err == nil {
			off += inst.Len
		}
		return inst, err
	}

	if hasErrorCode {
		for i := 0; i < 2; i++ {
			inst, err := next()
			if err != nil {
				return err.Error()
			}
			if inst.Op != x86asm.NOP {
				return fmt.Sprintf("expected nop for CPU-pushed error code; got %s", inst.Op)
			}
		}
	} else {
		inst, err := next()
		if err != nil {
			return err.Error()
		}
		if inst.Op != x86asm.PUSH || inst.Args[0] != x86asm.Imm(0) {
			return fmt.Sprintf("expected push $0; got %s", inst.Op)
		}
	}

	inst, err := next()
	if err != nil {
		return err.Error()
	}

	rel, ok := inst.Args[0].(x86asm.Rel)
	if inst.Op != x86asm.CALL || !ok {
		return fmt.Sprintf("expected relative call; got %s", inst.Op)
	}

	if target := pc + uint64(off) + uint64(int64(rel)); target != commonAddr {
		return fmt.Sprintf("call target 0x%x; expected 0x%x", target, commonAddr)
	}

	if inst, err = next(); err != nil {
		return err.Error()
	}
	if inst.Op != x86asm.NOP || off != len(stub) {
		return "expected trailing nop"
	}

	return ""
}

// disassemble prints the instructions of each stub in GNU syntax.
func disassemble(w io.Writer, code []byte, base uint64) {
	for off := 0; off < len(code); {
		if off%gate.EntryStubSize == 0 {
			fmt.Fprintf(w, "vector %d:\n", off/gate.EntryStubSize)
		}

		pc := base + uint64(off)
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			fmt.Fprintf(w, "  %#x: (bad) %02x\n", pc, code[off])
			off++
			continue
		}

		fmt.Fprintf(w, "  %#x: %s\n", pc, x86asm.GNUSyntax(inst, pc, nil))
		off += inst.Len
	}
}

func run(imgFile string, dis bool, w io.Writer) (int, error) {
	f, err := elf.Open(imgFile)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return 0, err
	}

	base, err := symbolAddr(symbols, entriesSymbol)
	if err != nil {
		return 0, err
	}

	commonAddr, err := symbolAddr(symbols, commonSymbol)
	if err != nil {
		return 0, err
	}

	code, err := readAt(f, base, stubsSize)
	if err != nil {
		return 0, err
	}

	if dis {
		disassemble(w, code, base)
	}

	issues := checkStubs(code, base, commonAddr)
	for _, issue := range issues {
		fmt.Fprintf(w, "%s\n", issue)
	}

	return len(issues), nil
}

func main() {
	dis := flag.Bool("dis", false, "disassemble the entry stubs")
	flag.Parse()

	if flag.NArg() != 1 {
		exit(fmt.Errorf("usage: %s [-dis] kernel-image", os.Args[0]))
	}

	out := bufio.NewWriter(os.Stdout)
	count, err := run(flag.Arg(0), *dis, out)
	out.Flush()
	if err != nil {
		exit(err)
	}

	if count != 0 {
		exit(fmt.Errorf("%d malformed entry stubs", count))
	}

	fmt.Printf("%d entry stubs OK\n", gate.VectorCount)
}
