// fpu.go implements the F and D extensions: single- and double-
// precision load/store and the OP-FP arithmetic/compare/convert space.
// IEEE-754 bit-pattern conversion has no idiomatic third-party
// replacement: math.Float{32,64}{bits,frombits} is the standard way
// to move between a float and its bit pattern, so this file is one of
// the few places this module stays on the standard library (see
// DESIGN.md).
package rvemu

import "math"

func (c *CPU) execLoadFP(pc uint64, instr uint32) error {
	rd, rs1, imm := decodeI(instr)
	funct3 := (instr >> 12) & 0x7
	addr := c.mask(c.getReg(rs1) + uint64(imm))
	switch funct3 {
	case 2: // FLW
		v, err := c.Mem.ReadU32(pc, addr)
		if err != nil {
			return err
		}
		c.F.SetSingle(rd, v)
	case 3: // FLD
		v, err := c.Mem.ReadU64(pc, addr)
		if err != nil {
			return err
		}
		c.F.SetDouble(rd, v)
	default:
		return faultOpcode(pc, instr)
	}
	return nil
}

func (c *CPU) execStoreFP(pc uint64, instr uint32) error {
	rs1, rs2, imm := decodeS(instr)
	funct3 := (instr >> 12) & 0x7
	addr := c.mask(c.getReg(rs1) + uint64(imm))
	switch funct3 {
	case 2: // FSW
		return c.Mem.WriteU32(pc, addr, c.F.Single(rs2))
	case 3: // FSD
		return c.Mem.WriteU64(pc, addr, c.F.Double(rs2))
	default:
		return faultOpcode(pc, instr)
	}
}

// execFusedFP implements FMADD/FMSUB/FNMSUB/FNMADD.
func (c *CPU) execFusedFP(pc uint64, instr uint32) error {
	rd, rs1, rs2, funct3, funct7 := decodeR(instr)
	rs3 := (instr >> 27) & 0x1F
	double := funct7&1 == 1
	opcode := instr & 0x7F

	a := c.fpOperand(rs1, double)
	b := c.fpOperand(rs2, double)
	d := c.fpOperand(rs3, double)
	_ = funct3

	var result float64
	switch opcode {
	case 0x43: // FMADD
		result = a*b + d
	case 0x47: // FMSUB
		result = a*b - d
	case 0x4B: // FNMSUB
		result = -(a * b) + d
	case 0x4F: // FNMADD
		result = -(a * b) - d
	default:
		return faultOpcode(pc, instr)
	}
	c.setFPResult(rd, result, double)
	return nil
}

func (c *CPU) fpOperand(i uint32, double bool) float64 {
	if double {
		return math.Float64frombits(c.F.Double(i))
	}
	return float64(math.Float32frombits(c.F.Single(i)))
}

func (c *CPU) setFPResult(rd uint32, v float64, double bool) {
	if double {
		c.F.SetDouble(rd, math.Float64bits(v))
	} else {
		c.F.SetSingle(rd, math.Float32bits(float32(v)))
	}
}

func (c *CPU) execOpFP(pc uint64, instr uint32) error {
	rd, rs1, rs2, funct3, funct7 := decodeR(instr)
	double := funct7&1 == 1
	switch funct7 &^ 1 {
	case 0x00: // FADD
		c.setFPResult(rd, c.fpOperand(rs1, double)+c.fpOperand(rs2, double), double)
	case 0x04: // FSUB
		c.setFPResult(rd, c.fpOperand(rs1, double)-c.fpOperand(rs2, double), double)
	case 0x08: // FMUL
		c.setFPResult(rd, c.fpOperand(rs1, double)*c.fpOperand(rs2, double), double)
	case 0x0C: // FDIV
		c.setFPResult(rd, c.fpOperand(rs1, double)/c.fpOperand(rs2, double), double)
	case 0x2C: // FSQRT
		c.setFPResult(rd, math.Sqrt(c.fpOperand(rs1, double)), double)
	case 0x10: // FSGNJ family
		c.execSgnj(rd, rs1, rs2, funct3, double)
	case 0x14: // FMIN/FMAX
		a, b := c.fpOperand(rs1, double), c.fpOperand(rs2, double)
		if funct3 == 0 {
			c.setFPResult(rd, math.Min(a, b), double)
		} else {
			c.setFPResult(rd, math.Max(a, b), double)
		}
	case 0x50: // FEQ/FLT/FLE
		a, b := c.fpOperand(rs1, double), c.fpOperand(rs2, double)
		var res bool
		switch funct3 {
		case 2:
			res = a == b
		case 1:
			res = a < b
		case 0:
			res = a <= b
		default:
			return faultOpcode(pc, instr)
		}
		if res {
			c.setReg(rd, 1)
		} else {
			c.setReg(rd, 0)
		}
	case 0x20: // FCVT.S.D / FCVT.D.S
		c.setFPResult(rd, c.fpOperand(rs1, !double), double)
	case 0x60: // FCVT.W/WU/L/LU.S|D — float to integer
		c.execCvtToInt(rd, rs1, rs2, double)
	case 0x68: // FCVT.S|D.W/WU/L/LU — integer to float
		c.execCvtFromInt(rd, rs1, rs2, double)
	case 0x70: // FMV.X.W|D / FCLASS
		if funct3 == 0 {
			if double {
				c.setReg(rd, c.F.Double(rs1))
			} else {
				c.setReg(rd, uint64(int64(int32(c.F.Single(rs1)))))
			}
		} else {
			c.setReg(rd, fclass(c.fpOperand(rs1, double)))
		}
	case 0x78: // FMV.W.X|D.X
		if double {
			c.F.SetDouble(rd, c.getReg(rs1))
		} else {
			c.F.SetSingle(rd, uint32(c.getReg(rs1)))
		}
	default:
		return faultOpcode(pc, instr)
	}
	return nil
}

func (c *CPU) execSgnj(rd, rs1, rs2, funct3 uint32, double bool) {
	if double {
		a, b := c.F.Double(rs1), c.F.Double(rs2)
		const sign = uint64(1) << 63
		switch funct3 {
		case 0:
			c.F.SetDouble(rd, (a&^sign)|(b&sign))
		case 1:
			c.F.SetDouble(rd, (a&^sign)|(^b&sign))
		case 2:
			c.F.SetDouble(rd, a^(b&sign))
		}
		return
	}
	a, b := c.F.Single(rs1), c.F.Single(rs2)
	const sign = uint32(1) << 31
	switch funct3 {
	case 0:
		c.F.SetSingle(rd, (a&^sign)|(b&sign))
	case 1:
		c.F.SetSingle(rd, (a&^sign)|(^b&sign))
	case 2:
		c.F.SetSingle(rd, a^(b&sign))
	}
}

// execCvtToInt implements FCVT.{W,WU,L,LU}.{S,D}; rs2 selects the
// destination integer kind per the standard encoding.
func (c *CPU) execCvtToInt(rd, rs1, rs2 uint32, double bool) {
	v := c.fpOperand(rs1, double)
	switch rs2 {
	case 0: // W
		c.setReg(rd, uint64(int64(int32(v))))
	case 1: // WU
		c.setReg(rd, SignExtend32(uint32(int64(v))))
	case 2: // L
		c.setReg(rd, uint64(int64(v)))
	case 3: // LU
		c.setReg(rd, uint64(v))
	}
}

func (c *CPU) execCvtFromInt(rd, rs1, rs2 uint32, double bool) {
	x := c.getReg(rs1)
	var f float64
	switch rs2 {
	case 0: // W
		f = float64(int32(x))
	case 1: // WU
		f = float64(uint32(x))
	case 2: // L
		f = float64(int64(x))
	case 3: // LU
		f = float64(x)
	}
	c.setFPResult(rd, f, double)
}

// fclass implements a simplified FCLASS: it distinguishes the cases
// guest software actually branches on (NaN, zero, infinite, normal)
// rather than the full ten-bit classification.
func fclass(v float64) uint64 {
	switch {
	case math.IsNaN(v):
		return 1 << 9
	case math.IsInf(v, 1):
		return 1 << 7
	case math.IsInf(v, -1):
		return 1 << 0
	case v == 0:
		if math.Signbit(v) {
			return 1 << 3
		}
		return 1 << 4
	case v > 0:
		return 1 << 6
	default:
		return 1 << 2
	}
}
