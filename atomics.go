// atomics.go implements the A extension. The execution engine is
// single-threaded and synchronous, so every
// atomic memory operation degrades to an ordinary read-modify-write:
// LR always succeeds, SC always succeeds (returns 0), and the AMO*
// family just performs the operation in program order.
package rvemu

func (c *CPU) execAtomic(pc uint64, instr uint32) error {
	rd, rs1, rs2, funct3, funct7 := decodeR(instr)
	funct5 := funct7 >> 2
	is64 := funct3 == 3
	if funct3 != 2 && funct3 != 3 {
		return faultOpcode(pc, instr)
	}
	addr := c.mask(c.getReg(rs1))

	load := func() (uint64, error) {
		if is64 {
			v, err := c.Mem.ReadU64(pc, addr)
			return v, err
		}
		v, err := c.Mem.ReadU32(pc, addr)
		return uint64(int64(int32(v))), err
	}
	store := func(v uint64) error {
		if is64 {
			return c.Mem.WriteU64(pc, addr, v)
		}
		return c.Mem.WriteU32(pc, addr, uint32(v))
	}

	switch funct5 {
	case 0x02: // LR
		v, err := load()
		if err != nil {
			return err
		}
		c.setReg(rd, v)
		return nil
	case 0x03: // SC — always succeeds under single-threaded execution.
		if err := store(c.getReg(rs2)); err != nil {
			return err
		}
		c.setReg(rd, 0)
		return nil
	}

	old, err := load()
	if err != nil {
		return err
	}
	rhs := c.getReg(rs2)
	var next uint64
	switch funct5 {
	case 0x00: // AMOADD
		next = old + rhs
	case 0x01: // AMOSWAP
		next = rhs
	case 0x04: // AMOXOR
		next = old ^ rhs
	case 0x08: // AMOOR
		next = old | rhs
	case 0x0C: // AMOAND
		next = old & rhs
	case 0x10: // AMOMIN
		next = minMaxSigned(old, rhs, is64, true)
	case 0x14: // AMOMAX
		next = minMaxSigned(old, rhs, is64, false)
	case 0x18: // AMOMINU
		next = minMaxUnsigned(old, rhs, true)
	case 0x1C: // AMOMAXU
		next = minMaxUnsigned(old, rhs, false)
	default:
		return faultOpcode(pc, instr)
	}
	if err := store(next); err != nil {
		return err
	}
	c.setReg(rd, old)
	return nil
}

func minMaxSigned(a, b uint64, is64, wantMin bool) uint64 {
	var sa, sb int64
	if is64 {
		sa, sb = int64(a), int64(b)
	} else {
		sa, sb = int64(int32(a)), int64(int32(b))
	}
	if (sa < sb) == wantMin {
		return a
	}
	return b
}

func minMaxUnsigned(a, b uint64, wantMin bool) uint64 {
	if (a < b) == wantMin {
		return a
	}
	return b
}
