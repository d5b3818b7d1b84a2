package rvemu

import "fmt"

// FaultCode classifies a MachineFault raised by the execution engine.
// These correspond to the exception tags in the component design: guest
// program errors that are not expressible as a negative errno and must
// terminate Simulate and surface to the embedder.
type FaultCode int

const (
	// UnhandledSyscall is raised by EBREAK when no debug hook is installed.
	UnhandledSyscall FaultCode = iota
	// IllegalOpcode is raised when the decoder cannot recognise an
	// instruction word.
	IllegalOpcode
	// ProtectionFault is raised when a load/store touches an unmapped,
	// non-anonymous page or violates the page's read/write/exec bits.
	ProtectionFault
	// MisalignedFetch is raised when the PC is not 2-byte aligned. With
	// the C extension a 32-bit instruction may start on any 2-byte
	// boundary, so no 4-byte check is made.
	MisalignedFetch
)

func (c FaultCode) String() string {
	switch c {
	case UnhandledSyscall:
		return "UNHANDLED_SYSCALL"
	case IllegalOpcode:
		return "ILLEGAL_OPCODE"
	case ProtectionFault:
		return "PROTECTION_FAULT"
	case MisalignedFetch:
		return "MISALIGNED_FETCH"
	default:
		return fmt.Sprintf("FAULT(%d)", int(c))
	}
}

// MachineFault is returned by Simulate when guest execution cannot
// continue. It carries enough context — the faulting PC, the address
// involved (if any), and the raw instruction word (if any) — for an
// embedder to diagnose the guest program without the library having to
// decide how that diagnosis should be presented.
type MachineFault struct {
	Code FaultCode
	PC   uint64
	Addr uint64
	Raw  uint32
}

func (f *MachineFault) Error() string {
	return fmt.Sprintf("%s at pc=0x%x addr=0x%x raw=0x%08x", f.Code, f.PC, f.Addr, f.Raw)
}

// faultOpcode builds an IllegalOpcode MachineFault for the given fetch.
func faultOpcode(pc uint64, raw uint32) *MachineFault {
	return &MachineFault{Code: IllegalOpcode, PC: pc, Raw: raw}
}

// faultProtection builds a ProtectionFault MachineFault for the given
// faulting guest address.
func faultProtection(pc, addr uint64) *MachineFault {
	return &MachineFault{Code: ProtectionFault, PC: pc, Addr: addr}
}
