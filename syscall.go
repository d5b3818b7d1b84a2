// syscall.go implements the ECALL dispatch table, following the
// guest-runner convention of dispatching on a7 into a Go function
// table rather than a giant switch, generalized here to a registry
// so Machine profiles (minimal/newlib/linux) can install only the
// handlers they support.
package rvemu

import "github.com/rvemu/rvemu/rvmetrics"

// ENOSYS is returned to the guest (as a negative a0) when no handler
// is installed for the requested syscall number.
const ENOSYS = 38

// Handler services one ECALL. args holds a0..a5 as passed by the
// guest; the return value is written back to a0 (negated errno
// convention applies the same as on real Linux/RISC-V).
type Handler func(m *Machine, args [6]uint64) int64

// SyscallTable maps syscall numbers (the guest's a7) to handlers.
type SyscallTable struct {
	handlers map[uint64]Handler
}

// NewSyscallTable returns an empty table; every number not explicitly
// registered resolves to ENOSYS.
func NewSyscallTable() *SyscallTable {
	return &SyscallTable{handlers: make(map[uint64]Handler)}
}

// Register installs handler for syscall number n, replacing any
// previous registration.
func (t *SyscallTable) Register(n uint64, h Handler) {
	t.handlers[n] = h
}

// Lookup returns the handler for n, if any.
func (t *SyscallTable) Lookup(n uint64) (Handler, bool) {
	h, ok := t.handlers[n]
	return h, ok
}

// Dispatch is installed as the CPU's ECALLHandler by Machine. It reads
// a7/a0..a5, invokes the matching Handler (or returns -ENOSYS), and
// writes the result back into a0.
func (t *SyscallTable) Dispatch(m *Machine) ECALLHandler {
	return func(c *CPU) {
		num := c.getReg(17) // a7
		var args [6]uint64
		for i := 0; i < 6; i++ {
			args[i] = c.getReg(uint32(10 + i)) // a0..a5
		}
		h, ok := t.handlers[num]
		if !ok {
			m.metrics.Counter(rvmetrics.SyscallsUnhandled).Inc()
			m.logf("syscall: unhandled number=%d", num)
			errno := int64(-ENOSYS)
			c.setReg(10, uint64(errno))
			return
		}
		m.metrics.Counter(rvmetrics.SyscallsDispatched).Inc()
		ret := h(m, args)
		c.setReg(10, uint64(ret))
	}
}
