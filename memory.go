// memory.go implements the paged virtual memory subsystem: a sparse,
// copy-on-write page table with lazily-allocated heap/mmap regions,
// bulk guest<->host transfer, and zero-copy gather buffers.
//
// Page allocation happens on demand, and accesses that straddle a page
// boundary are split into per-page chunks. CoW, brk, and
// mmap bookkeeping follow a conventional single-process emulator's
// heap/mmap allocator where the numeric behavior is otherwise
// unconstrained.
package rvemu

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/rvemu/rvemu/rvmetrics"
)

// Memory errors.
var (
	ErrUnmapped        = errors.New("rvemu: unmapped page")
	ErrProtection      = errors.New("rvemu: page attribute violation")
	ErrBadSegment      = errors.New("rvemu: segment would overflow address space")
	ErrAddressOverflow = errors.New("rvemu: address arithmetic overflow")
)

// Memory owns the page table and the heap/mmap bookkeeping. It records
// the guest Width but uses addresses as given; the CPU masks every
// address to the guest's native width before calling in.
type Memory struct {
	width    Width
	pageSize uint64
	pages    map[uint64]*mappedPage

	heapBase uint64
	brk      uint64
	brkMax   uint64
	mmapNext uint64
	stackTop uint64

	metrics *rvmetrics.Registry
}

// SetMetrics installs the registry that page faults, lazy allocations,
// CoW clones, and the brk/mmap gauges feed. A nil registry (the zero
// value) disables metrics collection.
func (m *Memory) SetMetrics(r *rvmetrics.Registry) { m.metrics = r }

// NewMemory constructs a Memory with the given heap base and BRK_MAX
// ceiling. mmapNext starts immediately above the brk ceiling, honouring
// the invariant heap_base <= brk <= heap_base+BRK_MAX <= mmap_next.
func NewMemory(width Width, heapBase, brkMax, stackTop uint64) (*Memory, error) {
	return NewMemoryWithPageSize(width, DefaultPageSize, heapBase, brkMax, stackTop)
}

// NewMemoryWithPageSize is NewMemory with an explicit page granularity;
// pageSize must be a power of two.
func NewMemoryWithPageSize(width Width, pageSize, heapBase, brkMax, stackTop uint64) (*Memory, error) {
	ceil, overflow := addOverflows(heapBase, brkMax)
	if overflow {
		return nil, ErrAddressOverflow
	}
	mmapNext := roundUpPage(ceil, pageSize)
	return &Memory{
		width:    width,
		pageSize: pageSize,
		pages:    make(map[uint64]*mappedPage),
		heapBase: heapBase,
		brk:      heapBase,
		brkMax:   brkMax,
		mmapNext: mmapNext,
		stackTop: stackTop,
	}, nil
}

// addOverflows adds a and b using 256-bit arithmetic so a 64-bit
// wraparound is detected rather than silently clamping the heap
// ceiling to a bogus, smaller address.
func addOverflows(a, b uint64) (sum uint64, overflow bool) {
	wa, wb := uint256.NewInt(a), uint256.NewInt(b)
	res := new(uint256.Int).Add(wa, wb)
	if !res.IsUint64() {
		return 0, true
	}
	return res.Uint64(), false
}

func roundUpPage(addr, pageSize uint64) uint64 {
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

func (m *Memory) pageNumber(addr uint64) uint64 { return addr / m.pageSize }
func (m *Memory) pageOffset(addr uint64) uint64 { return addr % m.pageSize }

// PageSize returns the page granularity in bytes.
func (m *Memory) PageSize() uint64 { return m.pageSize }

// HeapAddress returns the base of the heap region.
func (m *Memory) HeapAddress() uint64 { return m.heapBase }

// MmapAddress returns the current mmap free pointer.
func (m *Memory) MmapAddress() uint64 { return m.mmapNext }

// StackTop returns the initial stack pointer recorded at construction.
func (m *Memory) StackTop() uint64 { return m.stackTop }

// isAnonymousRange reports whether addr falls within the heap/mmap
// span, where unmapped pages are lazily allocated as zero rather than
// faulting.
func (m *Memory) isAnonymousRange(addr uint64) bool {
	return addr >= m.heapBase && addr < m.mmapNext
}

// resolvePage returns the mappedPage backing addr. If absent and addr
// is in the anonymous heap/mmap span, a zero page is lazily allocated
// with read+write attributes. Otherwise it returns ErrUnmapped.
func (m *Memory) resolvePage(addr uint64, alloc bool) (*mappedPage, uint64, error) {
	pn := m.pageNumber(addr)
	if p, ok := m.pages[pn]; ok {
		return p, pn, nil
	}
	if alloc && m.isAnonymousRange(addr) {
		p := &mappedPage{data: newPageData(int(m.pageSize)), attr: RWAttr}
		m.pages[pn] = p
		if m.metrics != nil {
			m.metrics.Counter(rvmetrics.PagesAllocated).Inc()
		}
		return p, pn, nil
	}
	return nil, pn, ErrUnmapped
}

// ensureWritable performs the copy-on-write clone in place if p's
// backing data is shared, leaving p privately owned.
func (m *Memory) ensureWritable(p *mappedPage) {
	if p.data.refCount > 1 {
		old := p.data
		old.refCount--
		p.data = old.clone()
		if m.metrics != nil {
			m.metrics.Counter(rvmetrics.CowClones).Inc()
		}
	}
}

// fault builds a ProtectionFault and records a page fault.
func (m *Memory) fault(pc, addr uint64) error {
	if m.metrics != nil {
		m.metrics.Counter(rvmetrics.PageFaults).Inc()
	}
	return faultProtection(pc, addr)
}

func (m *Memory) checkAttr(p *mappedPage, pc, addr uint64, write, exec bool) error {
	if write && !p.attr.Write {
		return m.fault(pc, addr)
	}
	if exec && !p.attr.Exec {
		return m.fault(pc, addr)
	}
	if !write && !exec && !p.attr.Read {
		return m.fault(pc, addr)
	}
	return nil
}

// ReadByte / WriteByte and the wider ReadU16..ReadU64 family implement
// the width-generic read/write contract. pc is the faulting
// instruction's PC, threaded through purely for MachineFault context.

func (m *Memory) ReadByte(pc, addr uint64) (byte, error) {
	p, _, err := m.resolvePage(addr, true)
	if err != nil {
		return 0, m.fault(pc, addr)
	}
	if err := m.checkAttr(p, pc, addr, false, false); err != nil {
		return 0, err
	}
	return p.data.bytes[m.pageOffset(addr)], nil
}

func (m *Memory) WriteByte(pc, addr uint64, v byte) error {
	p, _, err := m.resolvePage(addr, true)
	if err != nil {
		return m.fault(pc, addr)
	}
	if err := m.checkAttr(p, pc, addr, true, false); err != nil {
		return err
	}
	m.ensureWritable(p)
	p.data.bytes[m.pageOffset(addr)] = v
	return nil
}

// splitRange returns, for [addr, addr+n), the list of (guest address,
// length) chunks needed to cover the range without crossing a page
// boundary in a single chunk.
type chunk struct {
	addr uint64
	n    uint64
}

func (m *Memory) splitRange(addr, n uint64) []chunk {
	var chunks []chunk
	for n > 0 {
		off := m.pageOffset(addr)
		avail := m.pageSize - off
		take := n
		if take > avail {
			take = avail
		}
		chunks = append(chunks, chunk{addr: addr, n: take})
		addr += take
		n -= take
	}
	return chunks
}

func (m *Memory) readN(pc, addr uint64, n int) (uint64, error) {
	var buf [8]byte
	off := 0
	for _, c := range m.splitRange(addr, uint64(n)) {
		p, _, err := m.resolvePage(c.addr, true)
		if err != nil {
			return 0, m.fault(pc, c.addr)
		}
		if err := m.checkAttr(p, pc, c.addr, false, false); err != nil {
			return 0, err
		}
		poff := m.pageOffset(c.addr)
		copy(buf[off:], p.data.bytes[poff:poff+c.n])
		off += int(c.n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *Memory) writeN(pc, addr uint64, v uint64, n int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	off := 0
	for _, c := range m.splitRange(addr, uint64(n)) {
		p, _, err := m.resolvePage(c.addr, true)
		if err != nil {
			return m.fault(pc, c.addr)
		}
		if err := m.checkAttr(p, pc, c.addr, true, false); err != nil {
			return err
		}
		m.ensureWritable(p)
		poff := m.pageOffset(c.addr)
		copy(p.data.bytes[poff:poff+c.n], buf[off:off+int(c.n)])
		off += int(c.n)
	}
	return nil
}

func (m *Memory) ReadU16(pc, addr uint64) (uint16, error) {
	v, err := m.readN(pc, addr, 2)
	return uint16(v), err
}
func (m *Memory) WriteU16(pc, addr uint64, v uint16) error { return m.writeN(pc, addr, uint64(v), 2) }

func (m *Memory) ReadU32(pc, addr uint64) (uint32, error) {
	v, err := m.readN(pc, addr, 4)
	return uint32(v), err
}
func (m *Memory) WriteU32(pc, addr uint64, v uint32) error { return m.writeN(pc, addr, uint64(v), 4) }

func (m *Memory) ReadU64(pc, addr uint64) (uint64, error) { return m.readN(pc, addr, 8) }
func (m *Memory) WriteU64(pc, addr uint64, v uint64) error { return m.writeN(pc, addr, v, 8) }

// FetchHalf reads a 16-bit halfword for the low-bits decision in
// the fetch loop, enforcing the exec bit rather than the read bit.
func (m *Memory) FetchHalf(pc, addr uint64) (uint16, error) {
	p, _, err := m.resolvePage(addr, false)
	if err != nil {
		return 0, m.fault(pc, addr)
	}
	if err := m.checkAttr(p, pc, addr, false, true); err != nil {
		return 0, err
	}
	off := m.pageOffset(addr)
	if off <= m.pageSize-2 {
		return binary.LittleEndian.Uint16(p.data.bytes[off:]), nil
	}
	lo := p.data.bytes[off]
	p2, _, err := m.resolvePage(addr+1, false)
	if err != nil {
		return 0, m.fault(pc, addr+1)
	}
	hi := p2.data.bytes[0]
	return uint16(lo) | uint16(hi)<<8, nil
}

// MemcpyIn copies n bytes from guest address src into the host slice
// dst.
func (m *Memory) MemcpyIn(pc uint64, dst []byte, src uint64) error {
	n := uint64(len(dst))
	off := 0
	for _, c := range m.splitRange(src, n) {
		p, _, err := m.resolvePage(c.addr, true)
		if err != nil {
			return m.fault(pc, c.addr)
		}
		if err := m.checkAttr(p, pc, c.addr, false, false); err != nil {
			return err
		}
		poff := m.pageOffset(c.addr)
		copy(dst[off:off+int(c.n)], p.data.bytes[poff:poff+c.n])
		off += int(c.n)
	}
	return nil
}

// MemcpyOut copies the host slice src into guest address dst.
func (m *Memory) MemcpyOut(pc uint64, dst uint64, src []byte) error {
	off := 0
	for _, c := range m.splitRange(dst, uint64(len(src))) {
		p, _, err := m.resolvePage(c.addr, true)
		if err != nil {
			return m.fault(pc, c.addr)
		}
		if err := m.checkAttr(p, pc, c.addr, true, false); err != nil {
			return err
		}
		m.ensureWritable(p)
		poff := m.pageOffset(c.addr)
		copy(p.data.bytes[poff:poff+c.n], src[off:off+int(c.n)])
		off += int(c.n)
	}
	return nil
}

// VBuffer is a (host slice, guest base) pair produced by
// GatherBuffersFromRange, one per backing page, ordered by increasing
// guest address.
type VBuffer struct {
	Host []byte
	Addr uint64
}

// GatherBuffersFromRange resolves [addr, addr+length) into at most
// maxSlices host-side slices for zero-copy I/O. It returns 0 slices if
// any page in the range is unmapped (and not lazily allocatable) or if
// the requested access violates page attributes. When forWrite is set,
// each returned slice has already been through the CoW clone so the
// caller may mutate it directly.
func (m *Memory) GatherBuffersFromRange(pc uint64, maxSlices int, addr, length uint64, forWrite bool) ([]VBuffer, error) {
	var out []VBuffer
	for _, c := range m.splitRange(addr, length) {
		if len(out) >= maxSlices {
			break
		}
		p, _, err := m.resolvePage(c.addr, true)
		if err != nil {
			return nil, nil
		}
		if err := m.checkAttr(p, pc, c.addr, forWrite, false); err != nil {
			return nil, nil
		}
		if forWrite {
			m.ensureWritable(p)
		}
		poff := m.pageOffset(c.addr)
		out = append(out, VBuffer{Host: p.data.bytes[poff : poff+c.n], Addr: c.addr})
	}
	return out, nil
}

// SetPageAttr applies attrs to every page intersecting [addr, addr+len),
// allocating any missing page.
func (m *Memory) SetPageAttr(addr, length uint64, attrs PageAttr) {
	for _, c := range m.splitRange(addr, length) {
		pn := m.pageNumber(c.addr)
		p, ok := m.pages[pn]
		if !ok {
			p = &mappedPage{data: newPageData(int(m.pageSize))}
			m.pages[pn] = p
		}
		p.attr = attrs
	}
}

// FreePages releases every page intersecting [addr, addr+len).
// Subsequent access faults unless the region is reallocated (lazily,
// if it still falls within the anonymous span, or explicitly via
// SetPageAttr).
func (m *Memory) FreePages(addr, length uint64) {
	start := m.pageNumber(addr)
	end := m.pageNumber(addr + length - 1)
	for pn := start; pn <= end; pn++ {
		delete(m.pages, pn)
	}
}

// Brk clamps newEnd into [heap_base, heap_base+BRK_MAX] and returns the
// clamped value. brk(0) returns the current break without moving it.
func (m *Memory) Brk(newEnd uint64) uint64 {
	if newEnd == 0 {
		return m.brk
	}
	ceil, overflow := addOverflows(m.heapBase, m.brkMax)
	if overflow {
		ceil = ^uint64(0)
	}
	if newEnd < m.heapBase {
		newEnd = m.heapBase
	}
	if newEnd > ceil {
		newEnd = ceil
	}
	m.brk = newEnd
	if m.metrics != nil {
		m.metrics.Gauge(rvmetrics.BrkCurrent).Set(int64(m.brk))
	}
	return m.brk
}

// Mmap implements the anonymous-mapping allocator. A hint of 0 or
// equal to the current mmapNext behaves
// identically: the current mmapNext is returned and the pointer is
// advanced by length rounded up to the page size. A hint strictly below
// mmapNext fails. This resolves the source's "hint==mmapNext doesn't
// advance mmapNext" behaviour as a bug and does not replicate it — see
// DESIGN.md — because replicating it would break the mmap monotonicity
// testable property.
func (m *Memory) Mmap(hint, length uint64) (uint64, bool) {
	if length == 0 {
		return 0, false
	}
	if hint != 0 && hint < m.mmapNext {
		return 0, false
	}
	addr := m.mmapNext
	rounded := roundUpPage(length, m.pageSize)
	sum, overflow := addOverflows(addr, rounded)
	if overflow {
		return 0, false
	}
	m.mmapNext = sum
	if m.metrics != nil {
		m.metrics.Gauge(rvmetrics.MmapCurrent).Set(int64(m.mmapNext))
	}
	return addr, true
}

// Munmap frees [addr, addr+length) and retracts mmapNext if the freed
// range's end coincides with it, never below heap_base+BRK_MAX.
func (m *Memory) Munmap(addr, length uint64) {
	rounded := roundUpPage(length, m.pageSize)
	m.FreePages(addr, rounded)
	end, overflow := addOverflows(addr, rounded)
	if overflow {
		return
	}
	if end == m.mmapNext {
		floor, ov := addOverflows(m.heapBase, m.brkMax)
		if ov {
			floor = m.heapBase
		}
		floor = roundUpPage(floor, m.pageSize)
		if addr >= floor {
			m.mmapNext = addr
			if m.metrics != nil {
				m.metrics.Gauge(rvmetrics.MmapCurrent).Set(int64(m.mmapNext))
			}
		}
	}
}

// Mremap implements the "extend the last mapping in place" special
// case: it succeeds only when oldAddr+oldSize equals
// the current mmapNext.
func (m *Memory) Mremap(oldAddr, oldSize, newSize uint64) (uint64, bool) {
	oldRounded := roundUpPage(oldSize, m.pageSize)
	end, overflow := addOverflows(oldAddr, oldRounded)
	if overflow || end != m.mmapNext {
		return 0, false
	}
	newRounded := roundUpPage(newSize, m.pageSize)
	sum, overflow := addOverflows(oldAddr, newRounded)
	if overflow {
		return 0, false
	}
	m.mmapNext = sum
	if m.metrics != nil {
		m.metrics.Gauge(rvmetrics.MmapCurrent).Set(int64(m.mmapNext))
	}
	return oldAddr, true
}

// ProtFromBits translates the low three bits of a Linux mmap/mprotect
// prot argument into a PageAttr.
func ProtFromBits(prot uint64) PageAttr {
	return PageAttr{
		Read:  prot&0x1 != 0,
		Write: prot&0x2 != 0,
		Exec:  prot&0x4 != 0,
	}
}

// Share installs, into other at the same page number, a reference to
// the page currently backing addr in m — incrementing its refcount so
// the first write by either side clones it. This is how the module
// exercises the copy-on-write discipline for the "page shared by two
// Machines (hypothetical fork)" testable property without implementing
// full process fork, which is out of scope.
func (m *Memory) Share(other *Memory, addr uint64) error {
	pn := m.pageNumber(addr)
	p, ok := m.pages[pn]
	if !ok {
		return ErrUnmapped
	}
	p.data.refCount++
	other.pages[pn] = &mappedPage{data: p.data, attr: p.attr}
	return nil
}

// PageCount returns the number of currently-mapped pages, for tests
// and diagnostics.
func (m *Memory) PageCount() int { return len(m.pages) }
