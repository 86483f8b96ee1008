// Package pgo loads the loop checkpoint skip table.
//
// The table lives next to the output artifact in "<artifact>.pgo": the
// first line holds the number of entries N, followed by N lines of
// "<function index> <instruction offset>". Function indices count defined
// functions only; offsets are relative to the start of the function's
// expression. A missing file yields an empty table.
package pgo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/wippyai/wasm-aot/errors"
)

// Extension is appended to the artifact name to locate the table.
const Extension = ".pgo"

// Site identifies a loop by function and instruction offset.
type Site struct {
	Func   uint32
	Offset uint64
}

// Table is a read-only set of loop sites whose checkpoints are suppressed.
// A table created with Lazy reads its file on first use; all methods are
// safe for concurrent use.
type Table struct {
	once  sync.Once
	path  string
	sites map[Site]struct{}
	err   error
}

// New returns a table holding sites.
func New(sites ...Site) *Table {
	t := &Table{sites: make(map[Site]struct{}, len(sites))}
	for _, s := range sites {
		t.sites[s] = struct{}{}
	}
	t.once.Do(func() {})
	return t
}

// Lazy returns a table backed by the side-car file of artifact, read on
// the first query.
func Lazy(artifact string) *Table {
	return &Table{path: artifact + Extension}
}

// Load reads the side-car file of artifact immediately.
func Load(artifact string) (*Table, error) {
	t := Lazy(artifact)
	t.load()
	return t, t.err
}

func (t *Table) load() {
	t.once.Do(func() {
		t.sites = make(map[Site]struct{})
		f, err := os.Open(t.path)
		if err != nil {
			if !os.IsNotExist(err) {
				t.err = errors.New(errors.PhaseLoad, errors.KindNotFound).
					Detail("open %s", t.path).
					Cause(err).
					Build()
			}
			return
		}
		defer f.Close()
		sites, err := Parse(f)
		if err != nil {
			t.err = errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Detail("parse %s", t.path).
				Cause(err).
				Build()
			return
		}
		t.sites = sites
	})
}

// Err returns the error from reading the table, if any.
func (t *Table) Err() error {
	t.load()
	return t.err
}

// Skip reports whether the loop at offset in function fn is listed.
func (t *Table) Skip(fn uint32, offset uint64) bool {
	if t == nil {
		return false
	}
	t.load()
	_, ok := t.sites[Site{Func: fn, Offset: offset}]
	return ok
}

// Len returns the number of listed sites.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	t.load()
	return len(t.sites)
}

// Parse reads the table format. Entries beyond the declared count are
// ignored; fewer entries than declared is an error.
func Parse(r io.Reader) (map[Site]struct{}, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}

	word, ok := next()
	if !ok {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return map[Site]struct{}{}, nil
	}
	count, err := strconv.ParseUint(word, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad entry count %q", word)
	}

	sites := make(map[Site]struct{}, count)
	for i := uint64(0); i < count; i++ {
		fw, ok1 := next()
		ow, ok2 := next()
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("expected %d entries, found %d", count, i)
		}
		fn, err := strconv.ParseUint(strings.TrimSpace(fw), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("entry %d: bad function index %q", i, fw)
		}
		off, err := strconv.ParseUint(strings.TrimSpace(ow), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %d: bad offset %q", i, ow)
		}
		sites[Site{Func: uint32(fn), Offset: off}] = struct{}{}
	}
	return sites, sc.Err()
}
