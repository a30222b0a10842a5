package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"kboot/kernel/gate"
)

// buildStubs assembles the entry stubs the way gate_amd64.s lays them out.
func buildStubs(base, commonAddr uint64) []byte {
	code := make([]byte, 0, stubsSize)
	for vec := 0; vec < gate.VectorCount; vec++ {
		if gate.PushesErrorCode(gate.InterruptNumber(vec)) {
			code = append(code, 0x90, 0x90)
		} else {
			code = append(code, 0x6a, 0x00)
		}

		next := base + uint64(len(code)) + 5
		rel := make([]byte, 4)
		binary.LittleEndian.PutUint32(rel, uint32(int32(int64(commonAddr)-int64(next))))
		code = append(code, 0xe8)
		code = append(code, rel...)
		code = append(code, 0x90)
	}
	return code
}

func TestCheckStubs(t *testing.T) {
	const (
		base       = uint64(0x101000)
		commonAddr = uint64(0x101800)
	)

	code := buildStubs(base, commonAddr)
	if issues := checkStubs(code, base, commonAddr); len(issues) != 0 {
		t.Fatalf("expected no issues; got %v", issues)
	}

	specs := []struct {
		desc      string
		corrupt   func([]byte)
		expVector int
		expMsg    string
	}{
		{
			"missing placeholder push",
			func(c []byte) { c[3*8], c[3*8+1] = 0x90, 0x90 },
			3,
			"expected push $0",
		},
		{
			"push for a vector with an error code",
			func(c []byte) { c[14*8], c[14*8+1] = 0x6a, 0x00 },
			14,
			"expected nop for CPU-pushed error code",
		},
		{
			"wrong call target",
			func(c []byte) { c[0x21*8+3]++ },
			0x21,
			"call target",
		},
		{
			"missing trailing nop",
			func(c []byte) { c[0xff*8+7] = 0xcc },
			0xff,
			"expected trailing nop",
		},
	}

	for specIndex, spec := range specs {
		corrupted := append([]byte(nil), code...)
		spec.corrupt(corrupted)

		issues := checkStubs(corrupted, base, commonAddr)
		if len(issues) != 1 {
			t.Errorf("[spec %d] %s: expected 1 issue; got %v", specIndex, spec.desc, issues)
			continue
		}

		if issues[0].vector != spec.expVector || !strings.Contains(issues[0].msg, spec.expMsg) {
			t.Errorf("[spec %d] %s: expected issue for vector %d containing %q; got %s", specIndex, spec.desc, spec.expVector, spec.expMsg, issues[0])
		}
	}

	if issues := checkStubs(code[:100*8], base, commonAddr); len(issues) != gate.VectorCount-100 {
		t.Errorf("expected %d truncated stubs; got %d", gate.VectorCount-100, len(issues))
	}
}

func TestDisassemble(t *testing.T) {
	const base = uint64(0x101000)
	code := buildStubs(base, base+0x800)

	var buf bytes.Buffer
	disassemble(&buf, code[:2*8], base)

	out := buf.String()
	for _, exp := range []string{"vector 0:\n", "vector 1:\n", "call", "push", "nop"} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected disassembly to contain %q; got:\n%s", exp, out)
		}
	}

	if got := strings.Count(out, "\n"); got != 2+2*3 {
		t.Errorf("expected 8 output lines; got %d:\n%s", got, out)
	}
}

func TestSymbolAddr(t *testing.T) {
	symbols := []elf.Symbol{
		{Name: "runtime.main", Value: 0x1000},
		{Name: entriesSymbol, Value: 0x2000},
		{Name: commonSymbol + ".abi0", Value: 0x3000},
		{Name: "kboot/kernel/gate.gateCommonFoo", Value: 0x4000},
	}

	specs := []struct {
		name    string
		expAddr uint64
		expErr  bool
	}{
		{entriesSymbol, 0x2000, false},
		// assembly functions carry an ABI suffix since go 1.17
		{commonSymbol, 0x3000, false},
		{"kboot/kernel/gate.gateEntriesAddr", 0, true},
	}

	for specIndex, spec := range specs {
		addr, err := symbolAddr(symbols, spec.name)
		if gotErr := err != nil; gotErr != spec.expErr {
			t.Errorf("[spec %d] expected error to be %t; got %v", specIndex, spec.expErr, err)
			continue
		}

		if addr != spec.expAddr {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.expAddr, addr)
		}
	}
}

// TestCheckBuiltImage builds the kernel as a regular executable and
// verifies the entry stubs the assembler actually emitted.
func TestCheckBuiltImage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kernel build in short mode")
	}

	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available")
	}

	img := filepath.Join(t.TempDir(), "kernel.elf")
	cmd := exec.Command(goBin, "build", "-o", img, "kboot")
	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=amd64", "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("kernel build failed: %v\n%s", err, out)
	}

	var buf bytes.Buffer
	issues, err := run(img, true, &buf)
	if err != nil {
		t.Fatal(err)
	}

	if issues != 0 {
		t.Fatalf("expected no malformed entry stubs; got %d:\n%s", issues, buf.String())
	}

	if got := strings.Count(buf.String(), "vector "); got != gate.VectorCount {
		t.Errorf("expected disassembly of %d stubs; got %d", gate.VectorCount, got)
	}
}
