// stat.go implements the fixed-layout guest-visible structures: the
// RISC-V stat buffer, utsname, and timeval, each
// marshalled with encoding/binary little-endian to match the RISC-V
// wire format regardless of host byte order.
package rvemu

import (
	"bytes"
	"encoding/binary"
	"time"
)

// GuestStat mirrors struct stat as seen by a RISC-V newlib/musl guest.
// Field order and widths are shared across
// W=4/W=8 guests.
type GuestStat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	pad1    uint64
	Size    int64
	Blksize int32
	pad2    int32
	Blocks  int64
	Atime     int64
	AtimeNsec uint64
	Mtime     int64
	MtimeNsec uint64
	Ctime     int64
	CtimeNsec uint64
	pad3, pad4 uint32
}

// GuestStatSize is the marshalled size in bytes.
const GuestStatSize = 128

// MarshalBinary encodes the struct in the fixed guest layout.
func (s *GuestStat) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(GuestStatSize)
	fields := []any{
		s.Dev, s.Ino, s.Mode, s.Nlink,
		s.UID, s.GID, s.Rdev, s.pad1,
		s.Size, s.Blksize, s.pad2, s.Blocks,
		s.Atime, s.AtimeNsec,
		s.Mtime, s.MtimeNsec,
		s.Ctime, s.CtimeNsec,
		s.pad3, s.pad4,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Utsname mirrors struct utsname: six fixed 65-byte fields.
type Utsname struct {
	Sysname  [65]byte
	Nodename [65]byte
	Release  [65]byte
	Version  [65]byte
	Machine  [65]byte
	Domain   [65]byte
}

// UtsnameSize is the marshalled size in bytes.
const UtsnameSize = 65 * 6

// MarshalBinary encodes the struct in its fixed layout.
func (u *Utsname) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, UtsnameSize)
	for _, f := range [][65]byte{u.Sysname, u.Nodename, u.Release, u.Version, u.Machine, u.Domain} {
		out = append(out, f[:]...)
	}
	return out, nil
}

func setField(dst *[65]byte, s string) {
	n := copy(dst[:], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// NewUname constructs the constant utsname value uname(2) reports,
// with Machine set according to w.
func NewUname(w Width) *Utsname {
	u := &Utsname{}
	setField(&u.Sysname, "RISC-V C++ Emulator")
	setField(&u.Nodename, "libriscv")
	setField(&u.Release, "5.0.0")
	setField(&u.Version, "")
	setField(&u.Machine, w.archString())
	setField(&u.Domain, "(none)")
	return u
}

// GuestTimeval mirrors struct timeval: for W=4 guests a pair of
// 32-bit ints, for W=8 guests the native 64-bit layout.
type GuestTimeval struct {
	Sec  int64
	Usec int64
}

// MarshalBinary encodes t for the given guest width.
func (t GuestTimeval) MarshalBinary(w Width) ([]byte, error) {
	buf := new(bytes.Buffer)
	if w == W32 {
		binary.Write(buf, binary.LittleEndian, int32(t.Sec))
		binary.Write(buf, binary.LittleEndian, int32(t.Usec))
	} else {
		binary.Write(buf, binary.LittleEndian, t.Sec)
		binary.Write(buf, binary.LittleEndian, t.Usec)
	}
	return buf.Bytes(), nil
}

// GuestTimespec mirrors struct timespec for clock_gettime, always
// 64-bit fields regardless of guest width (matches the Linux RISC-V
// ABI, which keeps timespec 64-bit even on rv32).
type GuestTimespec struct {
	Sec  int64
	Nsec int64
}

func (t GuestTimespec) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, t.Sec)
	binary.Write(buf, binary.LittleEndian, t.Nsec)
	return buf.Bytes(), nil
}

func timespecFromHost(t time.Time) GuestTimespec {
	return GuestTimespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

func timevalFromHost(t time.Time) GuestTimeval {
	return GuestTimeval{Sec: t.Unix(), Usec: int64(t.Nanosecond() / 1000)}
}
