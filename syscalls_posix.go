// syscalls_posix.go implements the POSIX-like handler set for
// newlib/musl guests. Host-crossing operations use golang.org/x/sys/unix
// rather than the bare syscall package for richly-typed, portable
// host syscall access (see DESIGN.md).
package rvemu

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	errEPERM  = 1
	errEBADF  = 9
	errENOMEM = 12
	errEINVAL = 22
)

// Syscall numbers, Linux RISC-V ABI.
const (
	sysGetcwd        = 17
	sysDup           = 23
	sysFcntl         = 25
	sysIoctl         = 29
	sysFaccessat     = 48
	sysOpenat        = 56
	sysClose         = 57
	sysLseek         = 62
	sysRead          = 63
	sysWrite         = 64
	sysWritev        = 66
	sysReadlinkat    = 78
	sysFstatat       = 79
	sysFstat         = 80
	sysExit          = 93
	sysClockGettime  = 113
	sysRtSigaction   = 134
	sysRtSigprocmask = 135
	sysUname         = 160
	sysMremap        = 163
	sysGettimeofday  = 169
	sysGetpid        = 172
	sysGetuid        = 174
	sysGeteuid       = 175
	sysGetgid        = 176
	sysGetegid       = 177
	sysBrk           = 214
	sysMunmap        = 215
	sysMmap          = 222
	sysMprotect      = 226
	sysMadvise       = 233
	sysStatx         = 291
)

const writevMaxIovecs = 256
const readlinkatScratch = 16 << 10

// installProfile registers the handlers belonging to p (and every
// profile it nests, following the minimal ⊂ newlib ⊂ linux
// hierarchy.
func installProfile(t *SyscallTable, p Profile) {
	t.Register(sysExit, hExit)
	t.Register(sysRead, hRead)
	t.Register(sysWrite, hWrite)
	t.Register(sysLseek, hLseek)
	if p == ProfileMinimal {
		return
	}
	t.Register(sysBrk, hBrk)
	t.Register(sysMmap, hMmap)
	t.Register(sysMunmap, hMunmap)
	t.Register(sysMremap, hMremap)
	t.Register(sysMprotect, hMprotect)
	t.Register(sysMadvise, hMadvise)
	if p == ProfileNewlib {
		return
	}
	t.Register(sysGetcwd, hGetcwd)
	t.Register(sysDup, hDup)
	t.Register(sysFcntl, hFcntl)
	t.Register(sysIoctl, hIoctl)
	t.Register(sysFaccessat, hFaccessat)
	t.Register(sysOpenat, hOpenat)
	t.Register(sysClose, hClose)
	t.Register(sysWritev, hWritev)
	t.Register(sysReadlinkat, hReadlinkat)
	t.Register(sysFstatat, hFstatat)
	t.Register(sysFstat, hFstat)
	t.Register(sysClockGettime, hClockGettime)
	t.Register(sysRtSigaction, hRtSigaction)
	t.Register(sysRtSigprocmask, hRtSigprocmask)
	t.Register(sysUname, hUname)
	t.Register(sysGettimeofday, hGettimeofday)
	t.Register(sysGetpid, hStubZero)
	t.Register(sysGetuid, hStubZero)
	t.Register(sysGeteuid, hStubZero)
	t.Register(sysGetgid, hStubZero)
	t.Register(sysGetegid, hStubZero)
	t.Register(sysStatx, hStatx)
}

func hStubZero(m *Machine, args [6]uint64) int64 { return 0 }

// hExit implements syscall #93: stop the execution loop.
func hExit(m *Machine, args [6]uint64) int64 {
	m.Stop()
	return 0
}

// hRead implements syscall #63. vfd 0 reads from the machine's stdin
// source into a host buffer and copies the bytes into guest memory;
// vfd >= 3 issues a host read into a host buffer and copies the bytes
// out the same way; any other vfd is -EBADF. Neither path uses gather
// buffers. The result is the number of bytes actually read.
func hRead(m *Machine, args [6]uint64) int64 {
	vfd, addr, length := int64(args[0]), args[1], args[2]
	switch {
	case vfd == 0:
		buf := make([]byte, length)
		n, err := m.stdin.Read(buf)
		if n > 0 {
			if err := m.CopyToGuest(addr, buf[:n]); err != nil {
				return -errEINVAL
			}
		}
		if err != nil && n == 0 {
			return 0
		}
		return int64(n)
	case vfd >= ReservedFDs:
		if m.Files == nil {
			return -errEBADF
		}
		hostFD, ok := m.Files.Translate(int(vfd))
		if !ok {
			return -errEBADF
		}
		buf := make([]byte, length)
		n, err := unix.Read(hostFD, buf)
		if err != nil {
			return -int64(errnoOf(err))
		}
		if n > 0 {
			if err := m.CopyToGuest(addr, buf[:n]); err != nil {
				return -errEINVAL
			}
		}
		return int64(n)
	default:
		return -errEBADF
	}
}

// hWrite implements syscall #64. The guest range is first copied into
// a host buffer; no gather buffers are used. vfd 1/2 emit it to the
// machine's print sinks; vfd >= 3 requires PermitFileWrite and issues
// one host write, returning the count it reports (a partial write is
// returned as such); any other vfd is -EBADF.
func hWrite(m *Machine, args [6]uint64) int64 {
	vfd, addr, length := int64(args[0]), args[1], args[2]
	buf, err := m.CopyFromGuest(addr, int(length))
	if err != nil {
		return -errEINVAL
	}
	switch {
	case vfd == 1:
		n, _ := m.stdout.Write(buf)
		return int64(n)
	case vfd == 2:
		n, _ := m.stderr.Write(buf)
		return int64(n)
	case vfd >= ReservedFDs:
		if m.Files == nil || !m.Files.PermitFileWrite {
			return -errEBADF
		}
		hostFD, ok := m.Files.Translate(int(vfd))
		if !ok {
			return -errEBADF
		}
		n, err := unix.Write(hostFD, buf)
		if err != nil {
			return -int64(errnoOf(err))
		}
		return int64(n)
	default:
		return -errEBADF
	}
}

// hWritev implements syscall #66: an iovec array of at most
// writevMaxIovecs entries.
func hWritev(m *Machine, args [6]uint64) int64 {
	vfd, iov, count := int64(args[0]), args[1], int64(args[2])
	if count < 0 || count > writevMaxIovecs {
		return -errEINVAL
	}
	var total int64
	entrySize := uint64(2 * m.Width)
	for i := int64(0); i < count; i++ {
		entry, err := m.CopyFromGuest(iov+uint64(i)*entrySize, int(entrySize))
		if err != nil {
			return -errEINVAL
		}
		base, length := decodeIovec(entry, m.Width)
		n := hWrite(m, [6]uint64{uint64(vfd), base, length, 0, 0, 0})
		if n < 0 {
			return n
		}
		total += n
	}
	return total
}

func decodeIovec(entry []byte, w Width) (base, length uint64) {
	if w == W32 {
		base = uint64(le32(entry[0:4]))
		length = uint64(le32(entry[4:8]))
		return
	}
	base = le64(entry[0:8])
	length = le64(entry[8:16])
	return
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	return uint64(le32(b[0:4])) | uint64(le32(b[4:8]))<<32
}

// hBrk implements syscall #214.
func hBrk(m *Machine, args [6]uint64) int64 {
	return int64(m.Mem.Brk(args[0]))
}

// hMmap implements syscall #222.
func hMmap(m *Machine, args [6]uint64) int64 {
	addr, length := args[0], args[1]
	if addr != 0 && addr%m.Mem.PageSize() != 0 {
		return -1
	}
	got, ok := m.Mem.Mmap(addr, length)
	if !ok {
		return -1
	}
	return int64(got)
}

// hMunmap implements syscall #215.
func hMunmap(m *Machine, args [6]uint64) int64 {
	m.Mem.Munmap(args[0], args[1])
	return 0
}

// hMremap implements syscall #163: extend-last-mapping only.
func hMremap(m *Machine, args [6]uint64) int64 {
	oldAddr, oldSize, newSize := args[0], args[1], args[2]
	got, ok := m.Mem.Mremap(oldAddr, oldSize, newSize)
	if !ok {
		return -1
	}
	return int64(got)
}

// hMprotect implements syscall #226.
func hMprotect(m *Machine, args [6]uint64) int64 {
	addr, length, prot := args[0], args[1], args[2]
	m.Mem.SetPageAttr(addr, length, ProtFromBits(prot))
	return 0
}

// madvise advice values this module recognises (linux/mman.h).
const (
	madvNormal     = 0
	madvRandom     = 1
	madvSequential = 2
	madvWillneed   = 3
	madvDontneed   = 4
	madvRemove     = 9
)

// hMadvise implements syscall #233.
func hMadvise(m *Machine, args [6]uint64) int64 {
	addr, length, advice := args[0], args[1], int64(args[2])
	switch advice {
	case madvNormal, madvRandom, madvSequential, madvWillneed:
		return 0
	case madvDontneed, madvRemove:
		m.Mem.FreePages(addr, length)
		return 0
	default:
		return -errEINVAL
	}
}

// hGetcwd implements syscall #17: stub.
func hGetcwd(m *Machine, args [6]uint64) int64 { return 0 }

// hDup implements syscall #23.
func hDup(m *Machine, args [6]uint64) int64 {
	if m.Files == nil {
		return -errEBADF
	}
	hostFD, ok := m.Files.Translate(int(args[0]))
	if !ok {
		return -errEBADF
	}
	newFD, err := unix.Dup(hostFD)
	if err != nil {
		return -int64(errnoOf(err))
	}
	return int64(m.Files.Assign(newFD))
}

// hFcntl implements syscall #25: pass-through.
func hFcntl(m *Machine, args [6]uint64) int64 {
	if m.Files == nil {
		return -errEBADF
	}
	hostFD, ok := m.Files.Translate(int(args[0]))
	if !ok {
		return -errEBADF
	}
	r, err := unix.FcntlInt(uintptr(hostFD), int(args[1]), int(args[2]))
	if err != nil {
		return -int64(errnoOf(err))
	}
	return int64(r)
}

// hIoctl implements syscall #29: consult filter_ioctl, else
// pass-through.
func hIoctl(m *Machine, args [6]uint64) int64 {
	if m.Files == nil {
		return -errEBADF
	}
	hostFD, ok := m.Files.Translate(int(args[0]))
	if !ok {
		return -errEBADF
	}
	if !m.Files.allowIoctl(args[1]) {
		return -errEPERM
	}
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(hostFD), uintptr(args[1]), uintptr(args[2]))
	if errno != 0 {
		return -int64(errno)
	}
	return int64(r)
}

// hFaccessat implements syscall #48: stub.
func hFaccessat(m *Machine, args [6]uint64) int64 { return -ENOSYS }

// hOpenat implements syscall #56.
func hOpenat(m *Machine, args [6]uint64) int64 {
	if m.Files == nil || !m.Files.PermitFilesystem {
		return -errEBADF
	}
	pathAddr, flags := args[1], int(args[2])
	path, err := readGuestString(m, pathAddr, 4096)
	if err != nil {
		return -errEINVAL
	}
	if !m.Files.allowOpen(path) {
		return -errEPERM
	}
	dirFD := unix.AT_FDCWD
	if int64(args[0]) >= ReservedFDs {
		hostDirFD, ok := m.Files.Translate(int(args[0]))
		if !ok {
			return -errEBADF
		}
		dirFD = hostDirFD
	}
	hostFD, err := unix.Openat(dirFD, path, flags, 0644)
	if err != nil {
		return -int64(errnoOf(err))
	}
	return int64(m.Files.Assign(hostFD))
}

// hClose implements syscall #57: vfd <= 2 is a silent no-op (closing a
// standard stream is not forwarded to the host), else fds.close(vfd).
func hClose(m *Machine, args [6]uint64) int64 {
	vfd := int64(args[0])
	if vfd < ReservedFDs {
		return 0
	}
	if m.Files == nil {
		return -errEBADF
	}
	hostFD, ok := m.Files.Close(int(vfd))
	if !ok {
		return -errEBADF
	}
	if err := closeHostFD(hostFD); err != nil {
		return -int64(errnoOf(err))
	}
	return 0
}

// hLseek implements syscall #62: pass-through.
func hLseek(m *Machine, args [6]uint64) int64 {
	if m.Files == nil {
		return -errEBADF
	}
	hostFD, ok := m.Files.Translate(int(args[0]))
	if !ok {
		return -errEBADF
	}
	off, err := unix.Seek(hostFD, int64(args[1]), int(args[2]))
	if err != nil {
		return -int64(errnoOf(err))
	}
	return off
}

// hReadlinkat implements syscall #78: size-limited scratch, filtered,
// pass-through, copy result out.
func hReadlinkat(m *Machine, args [6]uint64) int64 {
	if m.Files == nil || !m.Files.PermitFilesystem {
		return -errEBADF
	}
	path, err := readGuestString(m, args[1], 4096)
	if err != nil {
		return -errEINVAL
	}
	if !m.Files.allowOpen(path) {
		return -errEPERM
	}
	bufAddr, bufSize := args[2], int(args[3])
	if bufSize > readlinkatScratch {
		return -errENOMEM
	}
	scratch := make([]byte, bufSize)
	n, err := unix.Readlinkat(unix.AT_FDCWD, path, scratch)
	if err != nil {
		return -int64(errnoOf(err))
	}
	if err := m.CopyToGuest(bufAddr, scratch[:n]); err != nil {
		return -errEINVAL
	}
	return int64(n)
}

// hFstatat implements syscall #79.
func hFstatat(m *Machine, args [6]uint64) int64 {
	if m.Files == nil || !m.Files.PermitFilesystem {
		return -errEBADF
	}
	path, err := readGuestString(m, args[1], 4096)
	if err != nil {
		return -errEINVAL
	}
	if !m.Files.allowStat(path) {
		return -errEPERM
	}
	dirFD := unix.AT_FDCWD
	if int64(args[0]) >= ReservedFDs {
		hostDirFD, ok := m.Files.Translate(int(args[0]))
		if !ok {
			return -errEBADF
		}
		dirFD = hostDirFD
	}
	var st unix.Stat_t
	if err := unix.Fstatat(dirFD, path, &st, int(args[3])); err != nil {
		return -int64(errnoOf(err))
	}
	return copyHostStatOut(m, &st, args[2])
}

// hFstat implements syscall #80: as #79 with no path.
func hFstat(m *Machine, args [6]uint64) int64 {
	if m.Files == nil {
		return -errEBADF
	}
	hostFD, ok := m.Files.Translate(int(args[0]))
	if !ok {
		return -errEBADF
	}
	var st unix.Stat_t
	if err := unix.Fstat(hostFD, &st); err != nil {
		return -int64(errnoOf(err))
	}
	return copyHostStatOut(m, &st, args[1])
}

func copyHostStatOut(m *Machine, st *unix.Stat_t, addr uint64) int64 {
	gs := &GuestStat{
		Dev: st.Dev, Ino: st.Ino, Mode: uint32(st.Mode), Nlink: uint32(st.Nlink),
		UID: st.Uid, GID: st.Gid, Rdev: st.Rdev,
		Size: st.Size, Blksize: int32(st.Blksize), Blocks: st.Blocks,
		Atime: st.Atim.Sec, AtimeNsec: uint64(st.Atim.Nsec),
		Mtime: st.Mtim.Sec, MtimeNsec: uint64(st.Mtim.Nsec),
		Ctime: st.Ctim.Sec, CtimeNsec: uint64(st.Ctim.Nsec),
	}
	b, err := gs.MarshalBinary()
	if err != nil {
		return -errEINVAL
	}
	if err := m.CopyToGuest(addr, b); err != nil {
		return -errEINVAL
	}
	return 0
}

// hClockGettime implements syscall #113.
func hClockGettime(m *Machine, args [6]uint64) int64 {
	_ = args[0] // clock id: this module always reports the host's realtime clock
	ts := timespecFromHost(time.Now())
	b, _ := ts.MarshalBinary()
	if err := m.CopyToGuest(args[1], b); err != nil {
		return -errEINVAL
	}
	return 0
}

// hGettimeofday implements syscall #169; W=4 guests get the
// two-32-bit-ints layout.
func hGettimeofday(m *Machine, args [6]uint64) int64 {
	tv := timevalFromHost(time.Now())
	b, _ := tv.MarshalBinary(m.Width)
	if err := m.CopyToGuest(args[0], b); err != nil {
		return -errEINVAL
	}
	return 0
}

const (
	sigILL  = 4
	sigABRT = 6
	sigFPE  = 8
	sigSEGV = 11
)

// hRtSigaction implements syscall #134: record the handler address
// for the four signals this module recognizes, always return 0.
func hRtSigaction(m *Machine, args [6]uint64) int64 {
	sig := int64(args[0])
	switch sig {
	case sigILL, sigABRT, sigFPE, sigSEGV:
		handlerAddr := args[1]
		if handlerAddr != 0 {
			m.SetSighandler(handlerAddr)
		}
	}
	return 0
}

// hRtSigprocmask implements syscall #135: stub.
func hRtSigprocmask(m *Machine, args [6]uint64) int64 { return 0 }

// hUname implements syscall #160.
func hUname(m *Machine, args [6]uint64) int64 {
	u := NewUname(m.Width)
	b, _ := u.MarshalBinary()
	if err := m.CopyToGuest(args[0], b); err != nil {
		return -errEINVAL
	}
	return 0
}

// hStatx implements syscall #291: filter, host statx, copy the host
// structure verbatim.
func hStatx(m *Machine, args [6]uint64) int64 {
	if m.Files == nil || !m.Files.PermitFilesystem {
		return -errEBADF
	}
	path, err := readGuestString(m, args[1], 4096)
	if err != nil {
		return -errEINVAL
	}
	if !m.Files.allowStat(path) {
		return -errEPERM
	}
	dirFD := unix.AT_FDCWD
	if int64(args[0]) >= ReservedFDs {
		hostDirFD, ok := m.Files.Translate(int(args[0]))
		if !ok {
			return -errEBADF
		}
		dirFD = hostDirFD
	}
	var st unix.Statx_t
	if err := unix.Statx(dirFD, path, int(args[2]), int(args[3]), &st); err != nil {
		return -int64(errnoOf(err))
	}
	if err := m.CopyToGuest(args[4], statxToBytes(&st)); err != nil {
		return -errEINVAL
	}
	return 0
}

// statxToBytes copies the host statx_t verbatim rather than
// translating it into the fixed RISC-V stat layout used by fstat/
// fstatat.
func statxToBytes(st *unix.Statx_t) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(st)), unsafe.Sizeof(*st))
}

func readGuestString(m *Machine, addr uint64, max int) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < max; i++ {
		b, err := m.Mem.ReadByte(m.CPU.PC, addr+uint64(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", ErrBadSegment
}

func errnoOf(err error) int {
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return errEINVAL
}

func closeHostFD(fd int) error {
	return unix.Close(fd)
}
