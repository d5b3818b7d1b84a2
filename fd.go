// fd.go implements the virtual-to-host file descriptor table: small
// integers are handed to the guest, and the host fd never leaks into
// guest-visible state.
package rvemu

import "sort"

// ReservedFDs is the number of virtual fds (0, 1, 2) that are never
// delegated to the host fd table.
const ReservedFDs = 3

// FileDescriptors maps virtual fds (small integers >= 3) to host fds,
// applying the three optional filter predicates before any operation
// that would otherwise touch the host filesystem.
type FileDescriptors struct {
	table map[int]int // vfd -> host fd

	FilterOpen  func(path string) bool
	FilterStat  func(path string) bool
	FilterIoctl func(request uint64) bool

	PermitFilesystem bool
	PermitFileWrite  bool

	UserData any
}

// NewFileDescriptors constructs an empty table. Filters default to
// permit-all; callers install stricter ones as needed.
func NewFileDescriptors() *FileDescriptors {
	return &FileDescriptors{table: make(map[int]int)}
}

// Assign records hostFD under the smallest free virtual fd >= 3.
func (f *FileDescriptors) Assign(hostFD int) int {
	vfd := ReservedFDs
	used := make([]int, 0, len(f.table))
	for v := range f.table {
		used = append(used, v)
	}
	sort.Ints(used)
	for _, v := range used {
		if v != vfd {
			break
		}
		vfd++
	}
	f.table[vfd] = hostFD
	return vfd
}

// Translate resolves a virtual fd to its host fd.
func (f *FileDescriptors) Translate(vfd int) (int, bool) {
	hostFD, ok := f.table[vfd]
	return hostFD, ok
}

// Close removes vfd from the table. The caller is responsible for
// closing the underlying host fd; Close reports whether vfd was
// present so the syscall handler can distinguish "closed" from
// "-EBADF".
func (f *FileDescriptors) Close(vfd int) (hostFD int, ok bool) {
	hostFD, ok = f.table[vfd]
	if ok {
		delete(f.table, vfd)
	}
	return
}

// CloseAll returns every host fd still open in the table, for Machine
// teardown, and empties the table.
func (f *FileDescriptors) CloseAll() []int {
	fds := make([]int, 0, len(f.table))
	for _, hostFD := range f.table {
		fds = append(fds, hostFD)
	}
	f.table = make(map[int]int)
	return fds
}

func (f *FileDescriptors) allowOpen(path string) bool {
	return f.FilterOpen == nil || f.FilterOpen(path)
}
func (f *FileDescriptors) allowStat(path string) bool {
	return f.FilterStat == nil || f.FilterStat(path)
}
func (f *FileDescriptors) allowIoctl(req uint64) bool {
	return f.FilterIoctl == nil || f.FilterIoctl(req)
}
