package rvemu

import "fmt"

// Width is the guest address width, in bytes. The execution engine and
// paged memory are both parameterised by it: every address computation
// funnels through Width.Mask so RV32 guests see 32-bit wraparound while
// RV64 guests see the full 64-bit space. RV128 is carried as a Width
// value recognised by Config and by the uname machine string, but
// NewMachine rejects it: there is no 128-bit register file — see
// DESIGN.md.
type Width int

const (
	W32  Width = 4
	W64  Width = 8
	W128 Width = 16
)

// Bits returns the register width in bits (32, 64 or 128).
func (w Width) Bits() int { return int(w) * 8 }

// Mask truncates v to the guest's native register width. Registers are
// always stored in a uint64 container; for W32 guests every write masks
// off the upper 32 bits so arithmetic wraps the way RV32I specifies.
func (w Width) Mask(v uint64) uint64 {
	if w == W32 {
		return v & 0xFFFFFFFF
	}
	return v
}

// SignExtend32 sign-extends a 32-bit result to the container width. RV64
// *W instructions (ADDIW, SLLIW, ...) produce a 32-bit result that must
// be sign-extended into the 64-bit register. FCVT.WU and the compressed
// C.ADDW/C.SUBW paths call it on either width; on RV32 the CPU's
// register write masks the result back to 32 bits.
func SignExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func (w Width) String() string {
	switch w {
	case W32:
		return "rv32"
	case W64:
		return "rv64"
	case W128:
		return "rv128"
	default:
		return fmt.Sprintf("Width(%d)", int(w))
	}
}

// archString returns the uname() machine field for this width, e.g.
// "rv64imafdc".
func (w Width) archString() string {
	return fmt.Sprintf("rv%dimafdc", w.Bits())
}
