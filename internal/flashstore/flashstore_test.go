package flashstore

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEmptyStoreIsDefault(t *testing.T) {
	s := openTemp(t)
	if m := s.Mode(); m != ModeDefault {
		t.Fatalf("mode = %v, want default", m)
	}
	if _, _, ok := s.Read(); ok {
		t.Fatal("Read reported a script on an empty store")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := openTemp(t)
	script := []byte("output[1].volts = 3.0\n")
	if err := s.Write("patch", script); err != nil {
		t.Fatal(err)
	}
	if m := s.Mode(); m != ModeUser {
		t.Fatalf("mode = %v, want user", m)
	}
	name, got, ok := s.Read()
	if !ok {
		t.Fatal("Read failed after Write")
	}
	if name != "patch" {
		t.Fatalf("name = %q, want patch", name)
	}
	if !bytes.Equal(got, script) {
		t.Fatalf("script = %q, want %q", got, script)
	}
}

func TestClearMarksSectorCleared(t *testing.T) {
	s := openTemp(t)
	if err := s.Write("x", []byte("a = 1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if m := s.Mode(); m != ModeCleared {
		t.Fatalf("mode = %v, want cleared", m)
	}
	if _, _, ok := s.Read(); ok {
		t.Fatal("Read returned a script after Clear")
	}
}

func TestScriptTooLargeRejected(t *testing.T) {
	s := openTemp(t)
	big := []byte(strings.Repeat("x", MaxScriptBytes+1))
	if err := s.Write("big", big); err != ErrScriptTooLarge {
		t.Fatalf("err = %v, want ErrScriptTooLarge", err)
	}
	if m := s.Mode(); m != ModeDefault {
		t.Fatalf("failed write changed the sector: mode %v", m)
	}
}

func TestCorruptStatusWordIsDefault(t *testing.T) {
	s := openTemp(t)
	if err := s.Write("x", []byte("a = 1")); err != nil {
		t.Fatal(err)
	}
	// Stamp an unknown magic into the status word.
	buf, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}
	buf[3] = 0x70 // magic nibble = 7
	if err := os.WriteFile(s.path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	if m := s.Mode(); m != ModeDefault {
		t.Fatalf("mode = %v, want default for unknown magic", m)
	}
}

func TestLongNameTruncatesAtFieldWidth(t *testing.T) {
	s := openTemp(t)
	long := strings.Repeat("n", NameSize+10)
	if err := s.Write(long, []byte("a = 1")); err != nil {
		t.Fatal(err)
	}
	name, _, ok := s.Read()
	if !ok {
		t.Fatal("Read failed")
	}
	if len(name) != NameSize {
		t.Fatalf("name length = %d, want %d", len(name), NameSize)
	}
}
