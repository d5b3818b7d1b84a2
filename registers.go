package rvemu

// RegCount is the number of integer and floating-point registers in
// every RISC-V base ISA.
const RegCount = 32

// Regs is the integer register file. Registers are stored in a uint64
// container regardless of guest Width; RV32 guests keep the upper 32
// bits zero because every write goes through Width.Mask (see cpu.go).
// x0 is wired to zero: SetReg on register 0 is always a discard, and
// GetReg on register 0 always returns 0, regardless of what was last
// stored in slot 0.
type Regs [RegCount]uint64

// GetReg reads integer register r, returning 0 for r == 0.
func (r *Regs) GetReg(i uint32) uint64 {
	if i == 0 {
		return 0
	}
	return r[i]
}

// SetReg writes integer register r, discarding writes to r == 0.
func (r *Regs) SetReg(i uint32, v uint64) {
	if i == 0 {
		return
	}
	r[i] = v
}

// FPRegs is the floating-point register file: 32 registers, 64 bits
// each. Single-precision values are NaN-boxed into the upper 32 bits
// per the RISC-V F/D extension spec so a single register file serves
// both F and D.
type FPRegs [RegCount]uint64

const nanBox = 0xFFFFFFFF00000000

// SetSingle stores a 32-bit float result, NaN-boxed.
func (f *FPRegs) SetSingle(i uint32, bits uint32) {
	f[i] = nanBox | uint64(bits)
}

// Single reads a NaN-boxed 32-bit float back out; an un-boxed register
// (lower 32 bits not preceded by all-ones) is canonicalised to NaN per
// the F extension's "box invalid" rule.
func (f *FPRegs) Single(i uint32) uint32 {
	v := f[i]
	if v&nanBox != nanBox {
		return 0x7FC00000 // canonical quiet NaN
	}
	return uint32(v)
}

// SetDouble stores a full 64-bit double.
func (f *FPRegs) SetDouble(i uint32, bits uint64) { f[i] = bits }

// Double reads a 64-bit double.
func (f *FPRegs) Double(i uint32) uint64 { return f[i] }
