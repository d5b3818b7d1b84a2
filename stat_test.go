package rvemu

import (
	"bytes"
	"testing"
)

func TestUname_MachineField(t *testing.T) {
	u := NewUname(W64)
	b, err := u.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(b) != UtsnameSize {
		t.Fatalf("marshalled size = %d, want %d", len(b), UtsnameSize)
	}
	field := b[4*65 : 5*65]
	want := make([]byte, 65)
	copy(want, "rv64imafdc")
	if !bytes.Equal(field, want) {
		t.Errorf("machine field = %q, want %q", bytes.TrimRight(field, "\x00"), "rv64imafdc")
	}
}

func TestGuestStat_Size(t *testing.T) {
	s := &GuestStat{Dev: 1, Ino: 2, Mode: 0o644}
	b, err := s.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(b) != GuestStatSize {
		t.Errorf("marshalled stat size = %d, want %d", len(b), GuestStatSize)
	}
}

func TestGuestTimeval_WidthLayout(t *testing.T) {
	tv := GuestTimeval{Sec: 100, Usec: 200}
	b32, err := tv.MarshalBinary(W32)
	if err != nil {
		t.Fatalf("MarshalBinary W32: %v", err)
	}
	if len(b32) != 8 {
		t.Errorf("W32 timeval size = %d, want 8", len(b32))
	}
	b64, err := tv.MarshalBinary(W64)
	if err != nil {
		t.Fatalf("MarshalBinary W64: %v", err)
	}
	if len(b64) != 16 {
		t.Errorf("W64 timeval size = %d, want 16", len(b64))
	}
}
