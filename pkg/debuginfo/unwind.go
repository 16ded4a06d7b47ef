package debuginfo

import "github.com/paiml/renacer/pkg/trace"

// MemReader reads 8 bytes (a pointer-width value) from tracee memory at
// addr, as needed to follow the frame-pointer chain. The tracing loop
// supplies an implementation backed by /proc/<pid>/mem or
// process_vm_readv. Unlike pkg/syscalltable.MemReader, which reads a
// byte slice, it reads exactly one word; it is kept separate so this
// package does not import the decoder for an unrelated reason.
type MemReader interface {
	ReadWord(addr uintptr) (uintptr, error)
}

// MaxUnwindDepth bounds stack unwinding.
const MaxUnwindDepth = 64

// Unwind performs best-effort frame-pointer-based stack unwinding
// starting from rbp, resolving each return address via c.Lookup. It
// stops at MaxUnwindDepth frames, a broken/zero frame pointer, or the
// first unresolvable read — whichever comes first — and never panics
// on a corrupt chain.
//
// Frame layout assumed (standard x86-64 frame-pointer convention):
// *rbp == saved rbp, *(rbp+8) == return address.
func (c *Catalog) Unwind(rbp uintptr, mem MemReader) []*trace.SourceLoc {
	var out []*trace.SourceLoc
	if mem == nil {
		return out
	}
	frame := rbp
	for depth := 0; depth < MaxUnwindDepth; depth++ {
		if frame == 0 {
			break
		}
		retAddr, err := mem.ReadWord(frame + 8)
		if err != nil || retAddr == 0 {
			break
		}
		if loc := c.Lookup(retAddr); loc != nil {
			out = append(out, loc)
		}
		savedRBP, err := mem.ReadWord(frame)
		if err != nil || savedRBP == frame {
			break
		}
		frame = savedRBP
	}
	return out
}
