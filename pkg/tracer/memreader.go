package tracer

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/paiml/renacer/internal/rerrors"
	"github.com/paiml/renacer/pkg/syscalltable"
)

// procMemReader implements syscalltable.MemReader by reading the
// tracee's /proc/<pid>/mem file: a bounded, fallible read primitive
// where every read goes through one pread at a known offset and
// returns a structured error rather than ever panicking.
type procMemReader struct {
	pid int
	f   *os.File
}

func newProcMemReader(pid int) (*procMemReader, error) {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDONLY, 0)
	if err != nil {
		return nil, &rerrors.TraceeReadFailed{Addr: 0, Len: 0, Cause: err}
	}
	return &procMemReader{pid: pid, f: f}, nil
}

// ReadMem reads up to n bytes at addr. A short read is returned as-is
// (not an error) so callers scanning for a NUL terminator can still
// succeed on a read that ran off the end of a mapping; only a read that
// returns zero bytes with an error is reported as TraceeReadFailed
// and rendered as <unreadable> by the decoder.
func (r *procMemReader) ReadMem(addr uintptr, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := r.f.ReadAt(buf, int64(addr))
	if read == 0 && err != nil {
		return nil, &rerrors.TraceeReadFailed{Addr: uint64(addr), Len: n, Cause: err}
	}
	return buf[:read], nil
}

// ReadWord reads one pointer-width little-endian value at addr,
// satisfying debuginfo.MemReader for frame-pointer unwinding.
func (r *procMemReader) ReadWord(addr uintptr) (uintptr, error) {
	var buf [8]byte
	if _, err := r.f.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, &rerrors.TraceeReadFailed{Addr: uint64(addr), Len: len(buf), Cause: err}
	}
	return uintptr(binary.LittleEndian.Uint64(buf[:])), nil
}

func (r *procMemReader) Close() error {
	if r.f == nil {
		return nil
	}
	return r.f.Close()
}

// decodeArgs wraps syscalltable.Decode, taking care to pass a true nil
// interface (not a typed nil *procMemReader) when no memory reader is
// available, so Decode's own nil check renders "<unreadable>" instead
// of dereferencing a nil receiver.
func decodeArgs(desc syscalltable.Descriptor, args [6]uint64, mem *procMemReader) []string {
	if mem == nil {
		return syscalltable.Decode(desc, args, nil)
	}
	return syscalltable.Decode(desc, args, mem)
}
