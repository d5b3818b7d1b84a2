package rvemu

import "testing"

func TestFileDescriptors_AssignStartsAtReserved(t *testing.T) {
	f := NewFileDescriptors()
	vfd := f.Assign(42)
	if vfd != ReservedFDs {
		t.Errorf("first Assign = %d, want %d", vfd, ReservedFDs)
	}
	hostFD, ok := f.Translate(vfd)
	if !ok || hostFD != 42 {
		t.Errorf("Translate(%d) = (%d, %v), want (42, true)", vfd, hostFD, ok)
	}
}

func TestFileDescriptors_AssignReusesSmallestFree(t *testing.T) {
	f := NewFileDescriptors()
	a := f.Assign(1)
	b := f.Assign(2)
	f.Close(a)
	c := f.Assign(3)
	if c != a {
		t.Errorf("Assign after Close = %d, want reused %d", c, a)
	}
	_ = b
}

func TestFileDescriptors_CloseUnknownFails(t *testing.T) {
	f := NewFileDescriptors()
	if _, ok := f.Close(99); ok {
		t.Error("Close on an unassigned vfd should report not-ok")
	}
}

func TestFileDescriptors_CloseAll(t *testing.T) {
	f := NewFileDescriptors()
	f.Assign(10)
	f.Assign(11)
	fds := f.CloseAll()
	if len(fds) != 2 {
		t.Fatalf("CloseAll returned %d fds, want 2", len(fds))
	}
	if _, ok := f.Translate(ReservedFDs); ok {
		t.Error("table should be empty after CloseAll")
	}
}

func TestFileDescriptors_Filters(t *testing.T) {
	f := NewFileDescriptors()
	f.FilterOpen = func(path string) bool { return path == "/etc/allowed" }
	if f.allowOpen("/etc/denied") {
		t.Error("FilterOpen should reject /etc/denied")
	}
	if !f.allowOpen("/etc/allowed") {
		t.Error("FilterOpen should accept /etc/allowed")
	}
}
