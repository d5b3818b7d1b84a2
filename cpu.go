// cpu.go implements the fetch-decode-dispatch loop, the RV32I/RV64I base
// integer ISA, and the M extension: an opcode switch covering
// LUI/AUIPC/JAL/JALR/Branch/Load/Store/OP-IMM/OP/SYSTEM, plus
// MUL/DIV/REM under funct7==0x01, parameterised by width so the same
// core serves RV32 and RV64, with A/F/D/C coverage added in
// atomics.go, fpu.go and compressed.go.
package rvemu

import (
	"math/bits"

	"github.com/rvemu/rvemu/rvmetrics"
)

func mul64(a, b uint64) (hi, lo uint64) { return bits.Mul64(a, b) }

// ECALLHandler is invoked on ECALL with the CPU that trapped. The
// syscall dispatch layer (syscall.go) installs the handler that does
// the a7-indexed lookup; a CPU with no handler installed faults.
type ECALLHandler func(cpu *CPU)

// CPU holds the register file, program counter and instruction budget.
// debugHook, if non-nil, is called on EBREAK instead of raising
// UnhandledSyscall.
type CPU struct {
	X   Regs
	F   FPRegs
	PC  uint64
	Width Width

	Counter    uint64
	MaxCounter uint64

	Mem *Memory

	onECALL   ECALLHandler
	debugHook func(cpu *CPU)

	metrics *rvmetrics.Registry
}

// NewCPU constructs a CPU over the given memory at the given width.
func NewCPU(width Width, mem *Memory) *CPU {
	return &CPU{Width: width, Mem: mem}
}

// SetECALLHandler installs the callback used to service ECALL.
func (c *CPU) SetECALLHandler(h ECALLHandler) { c.onECALL = h }

// SetDebugHook installs the callback used to service EBREAK.
func (c *CPU) SetDebugHook(h func(cpu *CPU)) { c.debugHook = h }

// SetMetrics installs the registry that Step's instruction count feeds.
// A nil registry (the zero value) disables metrics collection.
func (c *CPU) SetMetrics(r *rvmetrics.Registry) { c.metrics = r }

// bumpCounter advances the instruction budget counter and, if a
// registry is installed, the InstructionsExecuted counter alongside it.
func (c *CPU) bumpCounter() {
	c.Counter++
	if c.metrics != nil {
		c.metrics.Counter(rvmetrics.InstructionsExecuted).Inc()
	}
}

// Stop clears the remaining instruction budget so the next boundary in
// Simulate returns control to the embedder.
func (c *CPU) Stop() { c.MaxCounter = c.Counter }

// mask truncates v to the CPU's native register width.
func (c *CPU) mask(v uint64) uint64 { return c.Width.Mask(v) }

func (c *CPU) setReg(i uint32, v uint64) { c.X.SetReg(i, c.mask(v)) }
func (c *CPU) getReg(i uint32) uint64    { return c.X.GetReg(i) }

// Simulate runs the fetch-decode-dispatch loop until one of: the
// instruction budget maxInstructions is exhausted, Stop() is called, or
// an unhandled exception is raised. It returns a *MachineFault if
// execution had to stop abnormally; a nil error means the budget ran
// out (or Stop() was called) and the embedder may resume with a fresh
// budget; budget exhaustion is not itself an error.
func (c *CPU) Simulate(maxInstructions uint64) error {
	c.MaxCounter = c.Counter + maxInstructions
	for c.Counter < c.MaxCounter {
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step fetches, decodes and executes exactly one instruction.
func (c *CPU) Step() error {
	pc := c.PC
	if pc&1 != 0 {
		return &MachineFault{Code: MisalignedFetch, PC: pc}
	}
	half, err := c.Mem.FetchHalf(pc, pc)
	if err != nil {
		return err
	}
	if half&0x3 != 0x3 {
		return c.stepCompressed(pc, half)
	}
	hi, err := c.Mem.FetchHalf(pc, pc+2)
	if err != nil {
		return err
	}
	instr := uint32(half) | uint32(hi)<<16
	return c.stepFull(pc, instr)
}

func (c *CPU) stepFull(pc uint64, instr uint32) error {
	opcode := instr & 0x7F
	nextPC := pc + 4

	switch opcode {
	case 0x37: // LUI
		rd, imm := decodeU(instr)
		c.setReg(rd, uint64(imm))

	case 0x17: // AUIPC
		rd, imm := decodeU(instr)
		c.setReg(rd, pc+uint64(imm))

	case 0x6F: // JAL
		rd, imm := decodeJ(instr)
		c.setReg(rd, nextPC)
		nextPC = c.mask(pc + uint64(imm))

	case 0x67: // JALR
		rd, rs1, imm := decodeI(instr)
		target := c.mask((c.getReg(rs1) + uint64(imm)) &^ 1)
		c.setReg(rd, nextPC)
		nextPC = target

	case 0x63: // Branch
		rs1, rs2, imm := decodeB(instr)
		funct3 := (instr >> 12) & 0x7
		a, b := c.getReg(rs1), c.getReg(rs2)
		var taken bool
		switch funct3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = c.signed(a) < c.signed(b)
		case 5:
			taken = c.signed(a) >= c.signed(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return faultOpcode(pc, instr)
		}
		if taken {
			nextPC = c.mask(pc + uint64(imm))
		}

	case 0x03: // Load
		if err := c.execLoad(pc, instr); err != nil {
			return err
		}

	case 0x23: // Store
		if err := c.execStore(pc, instr); err != nil {
			return err
		}

	case 0x13: // OP-IMM
		if err := c.execOpImm(pc, instr, false); err != nil {
			return err
		}

	case 0x1B: // OP-IMM-32 (RV64 only)
		if c.Width != W64 {
			return faultOpcode(pc, instr)
		}
		if err := c.execOpImm(pc, instr, true); err != nil {
			return err
		}

	case 0x33: // OP
		if err := c.execOp(pc, instr, false); err != nil {
			return err
		}

	case 0x3B: // OP-32 (RV64 only)
		if c.Width != W64 {
			return faultOpcode(pc, instr)
		}
		if err := c.execOp(pc, instr, true); err != nil {
			return err
		}

	case 0x2F: // AMO (A extension)
		if err := c.execAtomic(pc, instr); err != nil {
			return err
		}

	case 0x07: // LOAD-FP
		if err := c.execLoadFP(pc, instr); err != nil {
			return err
		}

	case 0x27: // STORE-FP
		if err := c.execStoreFP(pc, instr); err != nil {
			return err
		}

	case 0x43, 0x47, 0x4B, 0x4F: // FMADD/FMSUB/FNMSUB/FNMADD
		if err := c.execFusedFP(pc, instr); err != nil {
			return err
		}

	case 0x53: // OP-FP
		if err := c.execOpFP(pc, instr); err != nil {
			return err
		}

	case 0x73: // SYSTEM
		funct3 := (instr >> 12) & 0x7
		if funct3 != 0 {
			return faultOpcode(pc, instr)
		}
		imm := instr >> 20
		switch imm {
		case 0: // ECALL
			if c.onECALL == nil {
				return &MachineFault{Code: UnhandledSyscall, PC: pc, Raw: instr}
			}
			c.onECALL(c)
		case 1: // EBREAK
			if c.debugHook != nil {
				c.debugHook(c)
			} else {
				return &MachineFault{Code: UnhandledSyscall, PC: pc, Raw: instr}
			}
		default:
			// CSR and other privileged SYSTEM instructions: user-mode
			// no-op: privileged CSRs are out of scope.
		}

	default:
		return faultOpcode(pc, instr)
	}

	c.X[0] = 0
	c.PC = nextPC
	c.bumpCounter()
	return nil
}

// signed reinterprets a masked register value as signed for the
// guest's native width.
func (c *CPU) signed(v uint64) int64 {
	if c.Width == W32 {
		return int64(int32(v))
	}
	return int64(v)
}

func (c *CPU) execLoad(pc uint64, instr uint32) error {
	rd, rs1, imm := decodeI(instr)
	funct3 := (instr >> 12) & 0x7
	addr := c.mask(c.getReg(rs1) + uint64(imm))
	switch funct3 {
	case 0: // LB
		b, err := c.Mem.ReadByte(pc, addr)
		if err != nil {
			return err
		}
		c.setReg(rd, uint64(int64(int8(b))))
	case 1: // LH
		h, err := c.Mem.ReadU16(pc, addr)
		if err != nil {
			return err
		}
		c.setReg(rd, uint64(int64(int16(h))))
	case 2: // LW
		w, err := c.Mem.ReadU32(pc, addr)
		if err != nil {
			return err
		}
		c.setReg(rd, uint64(int64(int32(w))))
	case 3: // LD (RV64 only)
		if c.Width != W64 {
			return faultOpcode(pc, instr)
		}
		d, err := c.Mem.ReadU64(pc, addr)
		if err != nil {
			return err
		}
		c.setReg(rd, d)
	case 4: // LBU
		b, err := c.Mem.ReadByte(pc, addr)
		if err != nil {
			return err
		}
		c.setReg(rd, uint64(b))
	case 5: // LHU
		h, err := c.Mem.ReadU16(pc, addr)
		if err != nil {
			return err
		}
		c.setReg(rd, uint64(h))
	case 6: // LWU (RV64 only)
		if c.Width != W64 {
			return faultOpcode(pc, instr)
		}
		w, err := c.Mem.ReadU32(pc, addr)
		if err != nil {
			return err
		}
		c.setReg(rd, uint64(w))
	default:
		return faultOpcode(pc, instr)
	}
	return nil
}

func (c *CPU) execStore(pc uint64, instr uint32) error {
	rs1, rs2, imm := decodeS(instr)
	funct3 := (instr >> 12) & 0x7
	addr := c.mask(c.getReg(rs1) + uint64(imm))
	val := c.getReg(rs2)
	switch funct3 {
	case 0:
		return c.Mem.WriteByte(pc, addr, byte(val))
	case 1:
		return c.Mem.WriteU16(pc, addr, uint16(val))
	case 2:
		return c.Mem.WriteU32(pc, addr, uint32(val))
	case 3:
		if c.Width != W64 {
			return faultOpcode(pc, instr)
		}
		return c.Mem.WriteU64(pc, addr, val)
	default:
		return faultOpcode(pc, instr)
	}
}

func (c *CPU) execOpImm(pc uint64, instr uint32, w32 bool) error {
	rd, rs1, imm := decodeI(instr)
	funct3 := (instr >> 12) & 0x7
	src := c.getReg(rs1)
	shiftMask := uint64(0x3F)
	if w32 || c.Width == W32 {
		shiftMask = 0x1F
	}
	var result uint64
	switch funct3 {
	case 0: // ADDI / ADDIW
		result = src + uint64(imm)
	case 1: // SLLI / SLLIW
		result = src << (uint64(imm) & shiftMask)
	case 2: // SLTI
		if c.signedImm(src, imm) {
			result = 1
		}
	case 3: // SLTIU
		if src < uint64(imm) {
			result = 1
		}
	case 4: // XORI
		result = src ^ uint64(imm)
	case 5: // SRLI/SRAI, SRLIW/SRAIW
		shamt := uint64(imm) & shiftMask
		if (instr>>30)&1 == 1 {
			if w32 {
				result = uint64(int64(int32(src) >> shamt))
			} else if c.Width == W32 {
				result = uint64(int64(int32(src)) >> shamt)
			} else {
				result = uint64(int64(src) >> shamt)
			}
		} else {
			if w32 {
				result = uint64(uint32(src) >> shamt)
			} else {
				result = src >> shamt
			}
		}
	case 6: // ORI
		result = src | uint64(imm)
	case 7: // ANDI
		result = src & uint64(imm)
	default:
		return faultOpcode(pc, instr)
	}
	if w32 {
		result = SignExtend32(uint32(result))
	}
	c.setReg(rd, result)
	return nil
}

func (c *CPU) signedImm(src uint64, imm int64) bool {
	if c.Width == W32 {
		return int64(int32(src)) < imm
	}
	return int64(src) < imm
}

func (c *CPU) execOp(pc uint64, instr uint32, w32 bool) error {
	rd, rs1, rs2, funct3, funct7 := decodeR(instr)
	a, b := c.getReg(rs1), c.getReg(rs2)
	if funct7 == 0x01 {
		return c.execMExt(pc, rd, a, b, funct3, w32)
	}
	var result uint64
	shiftMask := uint64(0x3F)
	if w32 {
		shiftMask = 0x1F
	}
	switch funct3 {
	case 0:
		if funct7 == 0x20 {
			if w32 {
				result = SignExtend32(uint32(a) - uint32(b))
			} else {
				result = a - b
			}
		} else if funct7 == 0 {
			if w32 {
				result = SignExtend32(uint32(a) + uint32(b))
			} else {
				result = a + b
			}
		} else {
			return faultOpcode(pc, instr)
		}
		c.setReg(rd, result)
		return nil
	case 1:
		result = a << (b & shiftMask)
	case 2:
		if c.signed(a) < c.signed(b) {
			result = 1
		}
	case 3:
		if a < b {
			result = 1
		}
	case 4:
		result = a ^ b
	case 5:
		shamt := b & shiftMask
		if funct7 == 0x20 {
			if w32 {
				result = uint64(int64(int32(a) >> shamt))
			} else {
				result = uint64(c.signed(a) >> shamt)
			}
		} else {
			if w32 {
				result = uint64(uint32(a) >> shamt)
			} else {
				result = a >> shamt
			}
		}
	case 6:
		result = a | b
	case 7:
		result = a & b
	default:
		return faultOpcode(pc, instr)
	}
	if w32 {
		result = SignExtend32(uint32(result))
	}
	c.setReg(rd, result)
	return nil
}

func (c *CPU) execMExt(pc uint64, rd uint32, a, b uint64, funct3 uint32, w32 bool) error {
	var result uint64
	if w32 {
		a32, b32 := int32(a), int32(b)
		switch funct3 {
		case 0: // MULW
			result = SignExtend32(uint32(a32 * b32))
		case 4: // DIVW
			result = SignExtend32(uint32(divS32(a32, b32)))
		case 5: // DIVUW
			result = SignExtend32(uint32(a) / uint32(b))
			if uint32(b) == 0 {
				result = SignExtend32(0xFFFFFFFF)
			}
		case 6: // REMW
			result = SignExtend32(uint32(remS32(a32, b32)))
		case 7: // REMUW
			if uint32(b) == 0 {
				result = SignExtend32(uint32(a))
			} else {
				result = SignExtend32(uint32(a) % uint32(b))
			}
		default:
			return faultOpcode(pc, 0)
		}
		c.setReg(rd, result)
		return nil
	}
	switch funct3 {
	case 0: // MUL
		result = a * b
	case 1: // MULH
		result = uint64(mulHighSS(int64(a), int64(b)))
	case 2: // MULHSU
		result = uint64(mulHighSU(int64(a), b))
	case 3: // MULHU
		result = mulHighUU(a, b)
	case 4: // DIV
		result = uint64(divS64(int64(a), int64(b)))
	case 5: // DIVU
		if b == 0 {
			result = ^uint64(0)
		} else {
			result = a / b
		}
	case 6: // REM
		result = uint64(remS64(int64(a), int64(b)))
	case 7: // REMU
		if b == 0 {
			result = a
		} else {
			result = a % b
		}
	default:
		return faultOpcode(pc, 0)
	}
	c.setReg(rd, result)
	return nil
}

func divS32(a, b int32) int32 {
	if b == 0 {
		return -1
	}
	if a == -0x80000000 && b == -1 {
		return a
	}
	return a / b
}
func remS32(a, b int32) int32 {
	if b == 0 {
		return a
	}
	if a == -0x80000000 && b == -1 {
		return 0
	}
	return a % b
}
func divS64(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == -0x8000000000000000 && b == -1 {
		return a
	}
	return a / b
}
func remS64(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == -0x8000000000000000 && b == -1 {
		return 0
	}
	return a % b
}

func mulHighSS(a, b int64) int64 {
	hi, _ := bitsMulSS(a, b)
	return int64(hi)
}
func mulHighSU(a int64, b uint64) int64 {
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = uint64(-a)
	}
	hi, _ := bitsMulUU(ua, b)
	if !neg {
		return int64(hi)
	}
	// Two's complement negate of the 128-bit product's high half.
	lo := ua * b
	if lo != 0 {
		hi = ^hi
	} else {
		hi = ^hi + 1
	}
	return int64(hi)
}
func mulHighUU(a, b uint64) uint64 {
	hi, _ := bitsMulUU(a, b)
	return hi
}

// bitsMulUU and bitsMulSS compute the 128-bit product of two 64-bit
// operands using the standard double-word multiplication algorithm;
// math/bits.Mul64 provides the unsigned primitive.
func bitsMulUU(a, b uint64) (hi, lo uint64) { return mul64(a, b) }
func bitsMulSS(a, b int64) (hi, lo uint64) {
	negA, negB := a < 0, b < 0
	ua, ub := uint64(a), uint64(b)
	if negA {
		ua = uint64(-a)
	}
	if negB {
		ub = uint64(-b)
	}
	h, l := mul64(ua, ub)
	if negA != negB {
		if l != 0 {
			h = ^h
			l = ^l + 1
		} else {
			h = ^h + 1
		}
	}
	return h, l
}
