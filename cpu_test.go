package rvemu

import (
	"errors"
	"testing"
)

// newTestCPU builds a CPU over a small mapped, executable region of
// memory and loads instrs as the program starting at address 0.
func newTestCPU(t *testing.T, width Width, instrs []uint32) (*CPU, *Memory) {
	t.Helper()
	mem, err := NewMemory(width, 0x10000, DefaultBrkMax, 0x100000)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	mem.SetPageAttr(0, 0x1000, PageAttr{Read: true, Write: true, Exec: true})
	code := make([]byte, len(instrs)*4)
	for i, instr := range instrs {
		code[i*4] = byte(instr)
		code[i*4+1] = byte(instr >> 8)
		code[i*4+2] = byte(instr >> 16)
		code[i*4+3] = byte(instr >> 24)
	}
	if err := mem.MemcpyOut(0, 0, code); err != nil {
		t.Fatalf("MemcpyOut: %v", err)
	}
	return NewCPU(width, mem), mem
}

func runN(t *testing.T, c *CPU, n uint64) {
	t.Helper()
	if err := c.Simulate(n); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
}

func TestCPU_LUI(t *testing.T) {
	instr := EncodeUType(0x37, 1, 0x12345000)
	c, _ := newTestCPU(t, W64, []uint32{instr})
	runN(t, c, 1)
	if got := c.getReg(1); got != 0x12345000 {
		t.Errorf("LUI: got 0x%x, want 0x12345000", got)
	}
}

func TestCPU_AUIPC(t *testing.T) {
	instr := EncodeUType(0x17, 2, 0x10000000)
	c, _ := newTestCPU(t, W64, []uint32{instr})
	runN(t, c, 1)
	if got := c.getReg(2); got != 0x10000000 {
		t.Errorf("AUIPC: got 0x%x, want 0x10000000", got)
	}
}

func TestCPU_ADDI(t *testing.T) {
	instr := EncodeIType(0x13, 1, 0, 0, -5) // ADDI x1, x0, -5
	c, _ := newTestCPU(t, W64, []uint32{instr})
	runN(t, c, 1)
	if got := int64(c.getReg(1)); got != -5 {
		t.Errorf("ADDI: got %d, want -5", got)
	}
}

func TestCPU_RegZero(t *testing.T) {
	// ADDI x0, x0, 5 must leave x0 == 0.
	instr := EncodeIType(0x13, 0, 0, 0, 5)
	c, _ := newTestCPU(t, W64, []uint32{instr})
	runN(t, c, 1)
	if c.getReg(0) != 0 {
		t.Errorf("x0 = %d, want 0", c.getReg(0))
	}
}

func TestCPU_PCMonotonicity(t *testing.T) {
	instr := EncodeIType(0x13, 1, 0, 0, 1)
	c, _ := newTestCPU(t, W64, []uint32{instr, instr})
	runN(t, c, 1)
	if c.PC != 4 {
		t.Errorf("PC after one 32-bit instruction = %d, want 4", c.PC)
	}
}

func TestCPU_Budget(t *testing.T) {
	instr := EncodeIType(0x13, 1, 0, 1, 1) // ADDI x1, x1, 1
	c, _ := newTestCPU(t, W64, []uint32{instr, instr, instr, instr})
	runN(t, c, 2)
	if c.Counter != 2 {
		t.Fatalf("Counter = %d, want 2", c.Counter)
	}
	if got := c.getReg(1); got != 2 {
		t.Errorf("x1 after budget 2 = %d, want 2", got)
	}
}

func TestCPU_MUL(t *testing.T) {
	addi1 := EncodeIType(0x13, 1, 0, 0, 7)
	addi2 := EncodeIType(0x13, 2, 0, 0, 6)
	mul := EncodeRType(0x33, 3, 0, 1, 2, 0x01) // MUL x3, x1, x2
	c, _ := newTestCPU(t, W64, []uint32{addi1, addi2, mul})
	runN(t, c, 3)
	if got := c.getReg(3); got != 42 {
		t.Errorf("MUL: got %d, want 42", got)
	}
}

func TestCPU_DivByZero(t *testing.T) {
	addi1 := EncodeIType(0x13, 1, 0, 0, 7)
	div := EncodeRType(0x33, 2, 4, 1, 0, 0x01) // DIV x2, x1, x0
	c, _ := newTestCPU(t, W64, []uint32{addi1, div})
	runN(t, c, 2)
	if got := int64(c.getReg(2)); got != -1 {
		t.Errorf("DIV by zero: got %d, want -1", got)
	}
}

func TestCPU_LoadStoreRoundTrip(t *testing.T) {
	addi := EncodeIType(0x13, 1, 0, 0, 0x123)
	sw := EncodeSType(0x23, 2, 0, 1, 0x400) // SW x1, 0x400(x0)
	lw := EncodeIType(0x03, 3, 2, 0, 0x400) // LW x3, 0x400(x0)
	c, _ := newTestCPU(t, W64, []uint32{addi, sw, lw})
	runN(t, c, 3)
	if got := c.getReg(3); got != 0x123 {
		t.Errorf("load after store: got 0x%x, want 0x123", got)
	}
}

func TestCPU_IllegalOpcodeFaults(t *testing.T) {
	c, _ := newTestCPU(t, W64, []uint32{0xFFFFFFFF})
	err := c.Simulate(1)
	var fault *MachineFault
	if err == nil {
		t.Fatal("expected fault, got nil")
	}
	if !errors.As(err, &fault) {
		t.Fatalf("expected *MachineFault, got %T: %v", err, err)
	}
	if fault.Code != IllegalOpcode {
		t.Errorf("fault code = %v, want IllegalOpcode", fault.Code)
	}
}

func TestCPU_RV32Wraparound(t *testing.T) {
	addi := EncodeIType(0x13, 1, 0, 0, -1) // ADDI x1, x0, -1 -> 0xFFFFFFFF on RV32
	c, _ := newTestCPU(t, W32, []uint32{addi})
	runN(t, c, 1)
	if got := c.getReg(1); got != 0xFFFFFFFF {
		t.Errorf("RV32 ADDI -1: got 0x%x, want 0xFFFFFFFF", got)
	}
}
