// Package debuginfo implements the debug-info correlator: it parses
// DWARF line-number programs out of the tracee's ELF image, builds an
// instruction-pointer range map, and answers Lookup(ip) in O(log n)
// with a bounded LRU (github.com/hashicorp/golang-lru/v2) in front of
// it. File-path strings are interned so lookups share backing storage.
package debuginfo

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/paiml/renacer/internal/log"
	"github.com/paiml/renacer/pkg/trace"
)

// DefaultCacheSize is the default bounded IP->SourceLoc LRU capacity.
const DefaultCacheSize = 4096

// lineEntry is one (address, location) pair taken from a DWARF line
// program, kept sorted by Addr for binary search.
type lineEntry struct {
	Addr uintptr
	Loc  *trace.SourceLoc
}

// Catalog owns the interned file/function strings and the instruction
// range map built from one tracee's debug sections, shared by
// read-only reference. The zero value is a usable, empty Catalog;
// Lookup always returns nil on it, matching the missing-debug-data
// degradation path.
type Catalog struct {
	entries []lineEntry // sorted by Addr
	warnMissingOnce sync.Once

	cache *lru.Cache[uintptr, *trace.SourceLoc]

	// fileArena interns file path strings so every SourceLoc referencing
	// the same file shares one backing string.
	fileArena map[string]string
	arenaMu   sync.Mutex
}

// Load opens path (the tracee's own binary image) and parses its DWARF
// line-number programs into a Catalog. A missing or non-ELF/non-DWARF
// binary is not a hard error here: Load returns a usable empty Catalog
// plus a descriptive error so the caller can log a one-time warning and
// continue entirely without source correlation; corrupt
// per-compile-unit data is skipped rather than
// aborting the whole parse.
func Load(path string, cacheSize int) (*Catalog, error) {
	c := newEmptyCatalog(cacheSize)

	f, err := elf.Open(path)
	if err != nil {
		return c, fmt.Errorf("debuginfo: open %s: %w", path, err)
	}
	defer f.Close()

	d, err := f.DWARF()
	if err != nil {
		return c, fmt.Errorf("debuginfo: no DWARF data in %s: %w", path, err)
	}

	c.parseAll(d)
	return c, nil
}

func newEmptyCatalog(cacheSize int) *Catalog {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[uintptr, *trace.SourceLoc](cacheSize)
	return &Catalog{cache: cache, fileArena: make(map[string]string)}
}

// NewEmpty returns a Catalog with no debug data, exactly as Load would
// return on a stripped binary: every Lookup call returns nil.
func NewEmpty(cacheSize int) *Catalog {
	return newEmptyCatalog(cacheSize)
}

func (c *Catalog) parseAll(d *dwarf.Data) {
	r := d.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		c.parseCompileUnit(d, entry)
	}
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].Addr < c.entries[j].Addr })
}

// parseCompileUnit walks one CU's line-number program. A malformed
// program for this CU is logged and skipped; it must never abort
// parsing of the remaining CUs, and must never panic or loop forever
// on a malformed line program.
func (c *Catalog) parseCompileUnit(d *dwarf.Data, cu *dwarf.Entry) {
	lr, err := d.LineReader(cu)
	if err != nil || lr == nil {
		return
	}
	var le dwarf.LineEntry
	for {
		if err := lr.Next(&le); err != nil {
			return
		}
		if !le.IsStmt {
			continue
		}
		file := "?"
		if le.File != nil {
			file = le.File.Name
		}
		c.entries = append(c.entries, lineEntry{
			Addr: uintptr(le.Address),
			Loc:  &trace.SourceLoc{File: c.intern(file), Line: le.Line},
		})
	}
}

func (c *Catalog) intern(s string) string {
	c.arenaMu.Lock()
	defer c.arenaMu.Unlock()
	if v, ok := c.fileArena[s]; ok {
		return v
	}
	c.fileArena[s] = s
	return s
}

// Lookup resolves ip to the innermost known source location, or nil if
// none is known (stripped binary, IP outside any parsed range, or
// corrupt data for that range). O(log n) on a cache miss via binary
// search over the sorted range map; cache hits are O(1).
func (c *Catalog) Lookup(ip uintptr) *trace.SourceLoc {
	if c.cache != nil {
		if v, ok := c.cache.Get(ip); ok {
			return v
		}
	}
	loc := c.lookupUncached(ip)
	if c.cache != nil {
		c.cache.Add(ip, loc)
	}
	if loc == nil {
		c.warnMissingOnce.Do(func() {
			log.Warn("debuginfo: no source location available (stripped or missing debug data)")
		})
	}
	return loc
}

func (c *Catalog) lookupUncached(ip uintptr) *trace.SourceLoc {
	if len(c.entries) == 0 {
		return nil
	}
	// Binary search for the last entry with Addr <= ip.
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].Addr > ip })
	if i == 0 {
		return nil
	}
	return c.entries[i-1].Loc
}

// Len reports how many line-table entries were parsed, for diagnostics
// and tests.
func (c *Catalog) Len() int {
	return len(c.entries)
}
