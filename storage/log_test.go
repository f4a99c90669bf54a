package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func openTestLog(t *testing.T, path string, opts LogOptions) *LogStore {
	t.Helper()
	ls, err := OpenLogStore(path, opts)
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	return ls
}

func TestLogStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")

	ls := openTestLog(t, path, LogOptions{NoSync: true})
	if err := ls.Set("a", []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := ls.Set("b", []byte("2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := ls.Delete("a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ls.Close()

	ls = openTestLog(t, path, LogOptions{NoSync: true})
	defer ls.Close()

	if _, err := ls.Get("a"); err != ErrNotFound {
		t.Fatalf("Expected ErrNotFound for deleted key, got %v", err)
	}
	v, err := ls.Get("b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(v) != "2" {
		t.Fatalf("Expected '2', got %s", v)
	}
}

func TestLogStoreCompaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")
	ls := openTestLog(t, path, LogOptions{CompactAfter: 4, NoSync: true})

	for i := 0; i < 20; i++ {
		if err := ls.Set("list", []byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if n := ls.Records(); n >= 4 {
		t.Fatalf("Expected compacted log to hold fewer than 4 records, got %d", n)
	}
	ls.Close()

	ls = openTestLog(t, path, LogOptions{CompactAfter: 4, NoSync: true})
	defer ls.Close()
	v, err := ls.Get("list")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(v) != "19" {
		t.Fatalf("Expected '19', got %s", v)
	}
	if _, err := os.Stat(path + ".compact"); !os.IsNotExist(err) {
		t.Fatalf("Temporary compaction file should not remain: %v", err)
	}
}

func TestLogStoreTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")
	ls := openTestLog(t, path, LogOptions{NoSync: true})
	if err := ls.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	ls.Close()

	// Half of a CBOR map header and key, as left by a crash mid-append.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Write([]byte{0xa3, 0x01})
	f.Close()

	ls = openTestLog(t, path, LogOptions{NoSync: true})
	v, err := ls.Get("k")
	if err != nil || string(v) != "v" {
		t.Fatalf("Expected intact record before torn tail, got %q, %v", v, err)
	}
	if err := ls.Set("k2", []byte("v2")); err != nil {
		t.Fatalf("Set after truncation failed: %v", err)
	}
	ls.Close()

	ls = openTestLog(t, path, LogOptions{NoSync: true})
	defer ls.Close()
	if v, err := ls.Get("k2"); err != nil || string(v) != "v2" {
		t.Fatalf("Expected record appended after truncation, got %q, %v", v, err)
	}
}

func TestLogStoreClosed(t *testing.T) {
	ls := openTestLog(t, filepath.Join(t.TempDir(), "q.log"), LogOptions{NoSync: true})
	ls.Close()
	if err := ls.Set("k", nil); err != ErrClosed {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	if _, err := ls.Get("k"); err != ErrClosed {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}

// tornFile writes half of each record and then fails, like a full disk.
type tornFile struct {
	logFile
	fail bool
}

func (f *tornFile) Write(b []byte) (int, error) {
	if !f.fail {
		return f.logFile.Write(b)
	}
	n, _ := f.logFile.Write(b[:len(b)/2])
	return n, errors.New("no space left on device")
}

func TestLogStoreFailedAppendLeavesNoTornBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")
	ls := openTestLog(t, path, LogOptions{NoSync: true})
	if err := ls.Set("a", []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	torn := &tornFile{logFile: ls.file, fail: true}
	ls.file = torn
	if err := ls.Set("b", []byte("2")); err == nil {
		t.Fatal("Expected failed write to return an error")
	}
	if _, err := ls.Get("b"); err != ErrNotFound {
		t.Fatalf("Failed write must not be applied, got %v", err)
	}

	torn.fail = false
	if err := ls.Set("c", []byte("3")); err != nil {
		t.Fatalf("Set after failed write: %v", err)
	}
	ls.Close()

	ls = openTestLog(t, path, LogOptions{NoSync: true})
	defer ls.Close()
	for k, want := range map[string]string{"a": "1", "c": "3"} {
		v, err := ls.Get(k)
		if err != nil || string(v) != want {
			t.Fatalf("Expected %s=%s after reopen, got %q, %v", k, want, v, err)
		}
	}
	if _, err := ls.Get("b"); err != ErrNotFound {
		t.Fatalf("Expected ErrNotFound for failed write, got %v", err)
	}
}

func TestLogStoreCompactionFailureKeepsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")
	// A directory in the way makes the compaction temp file unopenable.
	if err := os.Mkdir(path+".compact", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var compactErrs []error
	opts := LogOptions{
		CompactAfter:   2,
		NoSync:         true,
		OnCompactError: func(err error) { compactErrs = append(compactErrs, err) },
	}
	ls := openTestLog(t, path, opts)
	for i := 0; i < 5; i++ {
		if err := ls.Set("list", []byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("Set %d returned %v; the record was written", i, err)
		}
	}
	if len(compactErrs) == 0 {
		t.Fatal("Expected compaction failure to be reported")
	}
	if n := ls.Records(); n != 5 {
		t.Fatalf("Expected uncompacted log of 5 records, got %d", n)
	}
	ls.Close()

	ls = openTestLog(t, path, LogOptions{NoSync: true})
	defer ls.Close()
	v, err := ls.Get("list")
	if err != nil || string(v) != "4" {
		t.Fatalf("Expected '4' after reopen, got %q, %v", v, err)
	}
}
