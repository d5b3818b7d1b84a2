package rvemu

import (
	"bytes"
	"testing"
)

// ecallProgram returns a program that loads a0..a2 and a7 with small
// immediates via ADDI, then traps with ECALL.
func ecallProgram(a0, a1, a2, a7 int32) []uint32 {
	ecall := uint32(0x73)
	return []uint32{
		EncodeIType(0x13, 10, 0, 0, a0),
		EncodeIType(0x13, 11, 0, 0, a1),
		EncodeIType(0x13, 12, 0, 0, a2),
		EncodeIType(0x13, 17, 0, 0, a7),
		ecall,
	}
}

func newTestMachine(t *testing.T, cfg Config) (*Machine, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cfg.Width = W64
	if cfg.HeapBase == 0 {
		cfg.HeapBase = 0x20000
	}
	if cfg.BrkMax == 0 {
		cfg.BrkMax = 0x10000
	}
	cfg.Stdout = &stdout
	cfg.Stderr = &stderr
	m, err := NewMachine(cfg)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	m.Mem.SetPageAttr(0, 0x1000, PageAttr{Read: true, Write: true, Exec: true})
	return m, &stdout, &stderr
}

func loadProgram(t *testing.T, m *Machine, instrs []uint32) {
	t.Helper()
	code := make([]byte, len(instrs)*4)
	for i, instr := range instrs {
		code[i*4] = byte(instr)
		code[i*4+1] = byte(instr >> 8)
		code[i*4+2] = byte(instr >> 16)
		code[i*4+3] = byte(instr >> 24)
	}
	if err := m.CopyToGuest(0, code); err != nil {
		t.Fatalf("loading program: %v", err)
	}
}

// TestMachine_HelloWrite exercises the literal scenario of
// write(1, "hello\n", 6): it must emit exactly those six bytes to the
// print sink and return 6 in a0.
func TestMachine_HelloWrite(t *testing.T) {
	m, stdout, _ := newTestMachine(t, Config{Profile: ProfileMinimal})
	msg := []byte("hello\n")
	bufAddr := uint64(0x400)
	if err := m.CopyToGuest(bufAddr, msg); err != nil {
		t.Fatalf("CopyToGuest: %v", err)
	}
	loadProgram(t, m, ecallProgram(1, int32(bufAddr), 6, sysWrite))
	if err := m.CPU.Simulate(5); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if got := stdout.Bytes(); !bytes.Equal(got, msg) {
		t.Errorf("stdout = %q, want %q", got, msg)
	}
	if got := int64(m.CPU.getReg(10)); got != 6 {
		t.Errorf("a0 = %d, want 6", got)
	}
}

// TestMachine_UnknownSyscall implements scenario 2.
func TestMachine_UnknownSyscall(t *testing.T) {
	m, _, _ := newTestMachine(t, Config{Profile: ProfileLinux})
	loadProgram(t, m, ecallProgram(0, 0, 0, 999))
	if err := m.CPU.Simulate(5); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if got := int64(m.CPU.getReg(10)); got != -38 {
		t.Errorf("a0 = %d, want -38 (-ENOSYS)", got)
	}
}

// TestMachine_BadFDRead implements scenario 3: read on a vfd with no
// file descriptor table installed returns -EBADF.
func TestMachine_BadFDRead(t *testing.T) {
	m, _, _ := newTestMachine(t, Config{Profile: ProfileMinimal})
	loadProgram(t, m, ecallProgram(42, 0x800, 16, sysRead))
	if err := m.CPU.Simulate(5); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if got := int64(m.CPU.getReg(10)); got != -9 {
		t.Errorf("a0 = %d, want -9 (-EBADF)", got)
	}
}

// TestMachine_Uname implements scenario 6.
func TestMachine_Uname(t *testing.T) {
	m, _, _ := newTestMachine(t, Config{Profile: ProfileLinux})
	bufAddr := uint64(0x400)
	loadProgram(t, m, ecallProgram(int32(bufAddr), 0, 0, sysUname))
	if err := m.CPU.Simulate(5); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	field, err := m.CopyFromGuest(bufAddr+4*65, 65)
	if err != nil {
		t.Fatalf("CopyFromGuest: %v", err)
	}
	want := make([]byte, 65)
	copy(want, "rv64imafdc")
	if !bytes.Equal(field, want) {
		t.Errorf("machine field = %q, want %q", bytes.TrimRight(field, "\x00"), "rv64imafdc")
	}
}

// TestMachine_BrkSyscall exercises brk through the ECALL path with
// heap base 0x10000 and BRK_MAX 0x1000: a request below the heap base
// is clamped up to it.
func TestMachine_BrkSyscall(t *testing.T) {
	m, _, _ := newTestMachine(t, Config{Profile: ProfileNewlib, HeapBase: 0x10000, BrkMax: 0x1000})
	prog := ecallProgram(0, 0, 0, sysBrk)
	prog[0] = EncodeUType(0x37, 10, 0x1000) // LUI a0, 0x1 -> a0 = 0x1000 (too wide for ADDI)
	loadProgram(t, m, prog)
	if err := m.CPU.Simulate(5); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if got := int64(m.CPU.getReg(10)); got != 0x10000 {
		t.Errorf("brk(0x1000) via ecall = 0x%x, want 0x10000", got)
	}
}

func TestMachine_ExitStopsExecution(t *testing.T) {
	m, _, _ := newTestMachine(t, Config{Profile: ProfileMinimal})
	prog := ecallProgram(0, 0, 0, sysExit)
	// A trailing instruction that must never execute.
	prog = append(prog, EncodeIType(0x13, 5, 0, 0, 1))
	loadProgram(t, m, prog)
	if err := m.CPU.Simulate(100); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if got := m.CPU.getReg(5); got != 0 {
		t.Errorf("x5 = %d, want 0 (instruction after exit must not run)", got)
	}
}

func TestMachine_CloseNoFileTable(t *testing.T) {
	m, _, _ := newTestMachine(t, Config{Profile: ProfileMinimal})
	if err := m.Close(); err != nil {
		t.Errorf("Close with no file table: %v", err)
	}
}
