// machine.go implements the top-level Machine façade: construct a
// runner, wire a syscall table, drive Simulate() as a reusable type.
// The ELF loader and driver loop both remain external collaborators;
// Machine only owns the CPU, memory, and syscall/file-descriptor
// state.
package rvemu

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/rvemu/rvemu/rvlog"
	"github.com/rvemu/rvemu/rvmetrics"
)

// Profile selects which default syscall handlers NewMachine installs.
// The three profiles nest: minimal ⊂ newlib ⊂ linux.
type Profile int

const (
	ProfileMinimal Profile = iota
	ProfileNewlib
	ProfileLinux
)

// Config parameterises NewMachine. Image is the already-loaded
// program image (the external ELF loader's output); Machine does not
// parse ELF itself.
type Config struct {
	Width Width

	Image []byte

	PageSize uint64 // 0 defaults to DefaultPageSize
	HeapBase uint64
	BrkMax   uint64 // 0 defaults to 16 MiB
	StackTop uint64

	Profile Profile

	PermitFilesystem bool
	PermitFileWrite  bool
	WithFileTable    bool

	Stdout io.Writer // nil defaults to os.Stdout
	Stderr io.Writer // nil defaults to os.Stderr
	Stdin  io.Reader // nil defaults to os.Stdin

	Logger *rvlog.Logger // nil constructs a module-scoped default
}

// DefaultBrkMax is the default BRK_MAX ceiling.
const DefaultBrkMax = 16 << 20

// Machine is the top-level container: one CPU, one
// Memory, one SyscallTable, an optional FileDescriptors, a single
// signal-handler address, an opaque user-data slot, and the host I/O
// sinks syscall handlers read and write through.
type Machine struct {
	CPU    *CPU
	Mem    *Memory
	Syscalls *SyscallTable
	Files  *FileDescriptors

	Width Width

	sigHandler uint64
	UserData   any

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	logger  *rvlog.Logger
	metrics *rvmetrics.Registry
}

// NewMachine validates cfg and constructs a fully wired Machine: CPU,
// Memory, a syscall table populated according to cfg.Profile, and
// (if requested) a file descriptor table. The image is copied into
// guest memory starting at address 0, matching where a loader places
// a statically linked ELF's lowest segment in the simplified model
// this module uses (ELF loading itself is an external collaborator;
// Machine only needs somewhere to put the bytes it is
// handed).
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageSize&(cfg.PageSize-1) != 0 {
		return nil, fmt.Errorf("rvemu: page size %d is not a power of two", cfg.PageSize)
	}
	if cfg.BrkMax == 0 {
		cfg.BrkMax = DefaultBrkMax
	}
	if cfg.Width != W32 && cfg.Width != W64 {
		return nil, fmt.Errorf("rvemu: unsupported width %s (RV128 is not yet implemented, see DESIGN.md)", cfg.Width)
	}
	if cfg.StackTop == 0 {
		cfg.StackTop = cfg.HeapBase + cfg.BrkMax + cfg.PageSize*1024
	}

	mem, err := NewMemoryWithPageSize(cfg.Width, cfg.PageSize, cfg.HeapBase, cfg.BrkMax, cfg.StackTop)
	if err != nil {
		return nil, err
	}

	if len(cfg.Image) > 0 {
		// Copy while writable, then drop to the read+exec code attribute.
		mem.SetPageAttr(0, uint64(len(cfg.Image)), RWAttr)
		if err := mem.MemcpyOut(0, 0, cfg.Image); err != nil {
			return nil, fmt.Errorf("rvemu: loading image: %w", err)
		}
		mem.SetPageAttr(0, uint64(len(cfg.Image)), RXAttr)
	}

	cpu := NewCPU(cfg.Width, mem)

	logger := cfg.Logger
	if logger == nil {
		logger = rvlog.Default()
	}
	logger = logger.Module("rvemu")

	registry := rvmetrics.NewRegistry()
	rvmetrics.Install(registry)
	cpu.SetMetrics(registry)
	mem.SetMetrics(registry)

	m := &Machine{
		CPU:      cpu,
		Mem:      mem,
		Width:    cfg.Width,
		stdout:   cfg.Stdout,
		stderr:   cfg.Stderr,
		stdin:    cfg.Stdin,
		logger:   logger,
		metrics:  registry,
	}
	if m.stdout == nil {
		m.stdout = os.Stdout
	}
	if m.stderr == nil {
		m.stderr = os.Stderr
	}
	if m.stdin == nil {
		m.stdin = os.Stdin
	}
	if cfg.WithFileTable {
		m.Files = NewFileDescriptors()
		m.Files.PermitFilesystem = cfg.PermitFilesystem
		m.Files.PermitFileWrite = cfg.PermitFileWrite
	}

	m.Syscalls = NewSyscallTable()
	installProfile(m.Syscalls, cfg.Profile)
	cpu.SetECALLHandler(m.Syscalls.Dispatch(m))

	if len(cfg.Image) > 0 {
		digest := blake2b.Sum256(cfg.Image)
		m.logger.Debug("loaded program image", "size", len(cfg.Image), "blake2b_256", fmt.Sprintf("%x", digest))
	}

	return m, nil
}

// Logger returns the module-scoped logger installed on this Machine.
func (m *Machine) Logger() *rvlog.Logger { return m.logger }

// Metrics returns the metrics registry installed on this Machine.
func (m *Machine) Metrics() *rvmetrics.Registry { return m.metrics }

func (m *Machine) logf(format string, args ...any) {
	m.logger.Debug(fmt.Sprintf(format, args...))
}

// InstallSyscallHandler overrides (or adds) the handler for syscall
// number n. This must only be called before the first Simulate or
// between Simulate calls.
func (m *Machine) InstallSyscallHandler(n uint64, h Handler) {
	m.Syscalls.Register(n, h)
}

// SetResult writes value directly to a0.
func (m *Machine) SetResult(value int64) { m.CPU.setReg(10, uint64(value)) }

// SetResultOrError writes hostRC to a0 if non-negative, or the
// negated errno argument otherwise.
func (m *Machine) SetResultOrError(hostRC int64, errno int) {
	if hostRC < 0 {
		m.SetResult(-int64(errno))
		return
	}
	m.SetResult(hostRC)
}

// Sysarg reads argument register a[index] (0-based) as T. Only
// integer-like T is meaningful; T is resolved via a constraint-free
// cast from the raw uint64 so callers can read pointers, lengths, and
// small integers uniformly.
func Sysarg[T ~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64](m *Machine, index int) T {
	return T(m.CPU.getReg(uint32(10 + index)))
}

// Stop clears the CPU's remaining instruction budget.
func (m *Machine) Stop() { m.CPU.Stop() }

// SetSighandler records addr as the single guest signal-handler
// address; invocation on fault is an explicit non-goal (see
// DESIGN.md).
func (m *Machine) SetSighandler(addr uint64) { m.sigHandler = addr }

// Sighandler returns the address previously recorded by
// SetSighandler, or 0 if none was ever set.
func (m *Machine) Sighandler() uint64 { return m.sigHandler }

// CopyFromGuest reads n bytes from guest address addr into a new
// host-side slice.
func (m *Machine) CopyFromGuest(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := m.Mem.MemcpyIn(m.CPU.PC, buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

// CopyToGuest writes data into guest memory starting at addr.
func (m *Machine) CopyToGuest(addr uint64, data []byte) error {
	return m.Mem.MemcpyOut(m.CPU.PC, addr, data)
}

// HasFileDescriptors reports whether the optional fd table was
// constructed for this Machine.
func (m *Machine) HasFileDescriptors() bool { return m.Files != nil }

// Close releases every host resource this Machine owns: every open
// host fd in its file descriptor table. Go has no destructors, so
// closing on Machine destruction becomes an explicit io.Closer-shaped
// method the embedder calls.
func (m *Machine) Close() error {
	if m.Files == nil {
		return nil
	}
	var firstErr error
	for _, hostFD := range m.Files.CloseAll() {
		if err := closeHostFD(hostFD); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
