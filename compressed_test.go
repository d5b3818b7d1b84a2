package rvemu

import "testing"

// encodeCANDI builds a C.ANDI instruction (C1 quadrant, MISC-ALU
// funct2==2) targeting x8 (the first of the compressed 3-bit register
// range), with a 6-bit immediate split across bit 12 and bits 6:2.
func encodeCANDI(rdp uint32, imm6 int64) uint16 {
	u := uint32(imm6) & 0x3F
	raw := uint32(0x01) // op=01, funct3=100 (0x4) at bits 13-15, funct2=10 at bits 10-11
	raw |= 0x4 << 13
	raw |= (rdp - 8) << 7
	raw |= 0x2 << 10
	raw |= (u >> 5) << 12
	raw |= (u & 0x1F) << 2
	return uint16(raw)
}

func TestCompressed_ANDICoverage(t *testing.T) {
	for i := 0; i < 64; i++ {
		mem, err := NewMemory(W64, 0x10000, DefaultBrkMax, 0x100000)
		if err != nil {
			t.Fatalf("NewMemory: %v", err)
		}
		mem.SetPageAttr(0, 0x1000, PageAttr{Read: true, Write: true, Exec: true})
		instr := encodeCANDI(8, sext(uint32(i), 6))
		code := []byte{byte(instr), byte(instr >> 8)}
		if err := mem.MemcpyOut(0, 0, code); err != nil {
			t.Fatalf("MemcpyOut: %v", err)
		}
		c := NewCPU(W64, mem)
		c.setReg(8, 0xFFFFFFFF)
		if err := c.Simulate(1); err != nil {
			t.Fatalf("i=%d: Simulate: %v", i, err)
		}
		want := uint64(0xFFFFFFFF) & uint64(sext(uint32(i), 6))
		if got := c.getReg(8); got != want {
			t.Errorf("C.ANDI imm=%d: got 0x%x, want 0x%x", i, got, want)
		}
	}
}

func TestCompressed_ADDI4SPN(t *testing.T) {
	mem, err := NewMemory(W64, 0x10000, DefaultBrkMax, 0x100000)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	mem.SetPageAttr(0, 0x1000, PageAttr{Read: true, Write: true, Exec: true})
	// C.ADDI4SPN x8, sp, 4: op=00 funct3=000, nzuimm[2] (instruction bit 6)=1 -> nzuimm=4
	var raw uint32
	raw |= 0x0 // op
	raw |= 0x0 << 13
	raw |= (8 - 8) << 2 // rd'
	raw |= 0x1 << 6     // bit6 contributes 4 to nzuimm
	instr := uint16(raw)
	code := []byte{byte(instr), byte(instr >> 8)}
	if err := mem.MemcpyOut(0, 0, code); err != nil {
		t.Fatalf("MemcpyOut: %v", err)
	}
	c := NewCPU(W64, mem)
	c.setReg(2, 0x2000) // sp
	if err := c.Simulate(1); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if got := c.getReg(8); got != 0x2004 {
		t.Errorf("C.ADDI4SPN: got 0x%x, want 0x2004", got)
	}
}

func TestCompressed_CMV(t *testing.T) {
	mem, err := NewMemory(W64, 0x10000, DefaultBrkMax, 0x100000)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	mem.SetPageAttr(0, 0x1000, PageAttr{Read: true, Write: true, Exec: true})
	// C.MV x1, x2: op=10 funct3=100, b12=0, rd=1, rs2=2
	var raw uint32
	raw |= 0x2
	raw |= 0x4 << 13
	raw |= 1 << 7
	raw |= 2 << 2
	instr := uint16(raw)
	code := []byte{byte(instr), byte(instr >> 8)}
	if err := mem.MemcpyOut(0, 0, code); err != nil {
		t.Fatalf("MemcpyOut: %v", err)
	}
	c := NewCPU(W64, mem)
	c.setReg(2, 0x77)
	if err := c.Simulate(1); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if got := c.getReg(1); got != 0x77 {
		t.Errorf("C.MV: got 0x%x, want 0x77", got)
	}
}
