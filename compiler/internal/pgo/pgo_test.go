package pgo

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/wippyai/wasm-aot/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Site
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"zero", "0\n", nil, false},
		{"two", "2\n3 120\n0 7\n", []Site{{3, 120}, {0, 7}}, false},
		{"extra ignored", "1\n1 2\n5 6\n", []Site{{1, 2}}, false},
		{"large offset", "1\n1 18446744073709551615\n", []Site{{1, 1<<64 - 1}}, false},
		{"short", "2\n1 2\n", nil, true},
		{"bad count", "x\n", nil, true},
		{"bad offset", "1\n1 -3\n", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sites, want %d", len(got), len(tt.want))
			}
			for _, s := range tt.want {
				if _, ok := got[s]; !ok {
					t.Errorf("missing %+v", s)
				}
			}
		})
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	tbl, err := Load(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if tbl.Len() != 0 || tbl.Skip(0, 0) {
		t.Error("expected empty table")
	}
}

func TestLoad_File(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "app.aot")
	if err := os.WriteFile(artifact+Extension, []byte("1\n3 120\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := Load(artifact)
	if err != nil {
		t.Fatal(err)
	}
	if !tbl.Skip(3, 120) {
		t.Error("expected (3, 120) to be skipped")
	}
	if tbl.Skip(3, 121) || tbl.Skip(2, 120) {
		t.Error("unexpected skip")
	}
}

func TestLoad_Malformed(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "bad")
	if err := os.WriteFile(artifact+Extension, []byte("3\n1 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(artifact)
	if errors.KindOf(err) != errors.KindInvalidData {
		t.Fatalf("expected invalid data error, got %v", err)
	}
}

func TestLazy_ConcurrentFirstUse(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "lazy")
	if err := os.WriteFile(artifact+Extension, []byte("1\n0 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl := Lazy(artifact)

	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = tbl.Skip(0, 9)
		}(i)
	}
	wg.Wait()
	for i, ok := range results {
		if !ok {
			t.Errorf("goroutine %d missed the entry", i)
		}
	}
}

func TestNew(t *testing.T) {
	tbl := New(Site{Func: 1, Offset: 4})
	if !tbl.Skip(1, 4) || tbl.Len() != 1 || tbl.Err() != nil {
		t.Error("New table mismatch")
	}
	var nilTable *Table
	if nilTable.Skip(1, 4) {
		t.Error("nil table skips nothing")
	}
}
