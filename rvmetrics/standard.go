package rvmetrics

// Standard metric names installed on every Machine's Registry. Each
// Machine owns its own Registry instance rather than sharing one
// package-level default, so these are names to look up through
// Machine.Metrics(), not package-level variables.
const (
	InstructionsExecuted = "cpu.instructions_executed"
	SyscallsDispatched   = "syscall.dispatched"
	SyscallsUnhandled    = "syscall.unhandled"
	PageFaults           = "memory.page_faults"
	PagesAllocated       = "memory.pages_allocated"
	CowClones            = "memory.cow_clones"
	BrkCurrent           = "memory.brk_current"
	MmapCurrent          = "memory.mmap_current"
)

// Install registers every standard metric on r with its zero value,
// so Machine.Metrics() never returns a registry missing a name a
// caller expects to find.
func Install(r *Registry) {
	r.Counter(InstructionsExecuted)
	r.Counter(SyscallsDispatched)
	r.Counter(SyscallsUnhandled)
	r.Counter(PageFaults)
	r.Counter(PagesAllocated)
	r.Counter(CowClones)
	r.Gauge(BrkCurrent)
	r.Gauge(MmapCurrent)
}
