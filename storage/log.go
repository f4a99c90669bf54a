package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const (
	opSet    uint8 = 1
	opDelete uint8 = 2
)

// logRecord is one entry of the append-only log.
type logRecord struct {
	Op    uint8  `cbor:"1,keyasint"`
	Key   string `cbor:"2,keyasint"`
	Value []byte `cbor:"3,keyasint,omitempty"`
}

// LogOptions configures a LogStore.
type LogOptions struct {
	// CompactAfter is the number of records written before the log is
	// considered for compaction. Compaction only runs when dead records
	// outnumber live keys.
	CompactAfter int

	// NoSync skips fsync after each write. Only useful in tests.
	NoSync bool

	// OnCompactError receives compaction failures. The write that
	// triggered compaction has already succeeded.
	OnCompactError func(error)
}

// DefaultLogOptions returns default log options.
func DefaultLogOptions() LogOptions {
	return LogOptions{CompactAfter: 256}
}

// logFile is the subset of *os.File the log writes through.
type logFile interface {
	io.ReadWriteSeeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// LogStore is a KV persisted as an append-only CBOR log with periodic
// compaction. The whole live set is held in memory.
type LogStore struct {
	mu      sync.Mutex
	path    string
	file    logFile
	data    map[string][]byte
	records int
	opts    LogOptions
	enc     cbor.EncMode
	dec     cbor.DecMode
	closed  bool
}

// OpenLogStore opens (or creates) the log at path and replays it. A torn
// record at the tail, left by a crash mid-write, is truncated away.
func OpenLogStore(path string, opts LogOptions) (*LogStore, error) {
	if opts.CompactAfter <= 0 {
		opts.CompactAfter = DefaultLogOptions().CompactAfter
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	ls := &LogStore{
		path: path,
		file: f,
		data: make(map[string][]byte),
		opts: opts,
		enc:  enc,
		dec:  dec,
	}
	if err := ls.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return ls, nil
}

func (ls *LogStore) replay() error {
	d := ls.dec.NewDecoder(ls.file)
	good := 0
	for {
		var rec logRecord
		err := d.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Torn tail: keep everything up to the last whole record.
			if err := ls.file.Truncate(int64(good)); err != nil {
				return fmt.Errorf("truncate torn log: %w", err)
			}
			break
		}
		good = d.NumBytesRead()
		ls.apply(rec)
		ls.records++
	}
	_, err := ls.file.Seek(int64(good), io.SeekStart)
	return err
}

func (ls *LogStore) apply(rec logRecord) {
	switch rec.Op {
	case opSet:
		ls.data[rec.Key] = rec.Value
	case opDelete:
		delete(ls.data, rec.Key)
	}
}

func (ls *LogStore) append(rec logRecord) error {
	if ls.closed {
		return ErrClosed
	}
	b, err := ls.enc.Marshal(rec)
	if err != nil {
		return err
	}
	off, err := ls.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if _, err := ls.file.Write(b); err != nil {
		return ls.rollback(off, fmt.Errorf("append log: %w", err))
	}
	if !ls.opts.NoSync {
		if err := ls.file.Sync(); err != nil {
			return ls.rollback(off, fmt.Errorf("sync log: %w", err))
		}
	}
	ls.apply(rec)
	ls.records++
	if ls.records >= ls.opts.CompactAfter && ls.records > 2*len(ls.data) {
		if err := ls.compact(); err != nil && ls.opts.OnCompactError != nil {
			ls.opts.OnCompactError(err)
		}
	}
	return nil
}

// rollback cuts the file back to off so a failed append leaves no partial
// record for later ones to land behind.
func (ls *LogStore) rollback(off int64, cause error) error {
	if err := ls.file.Truncate(off); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback log: %w", err))
	}
	if _, err := ls.file.Seek(off, io.SeekStart); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback log: %w", err))
	}
	return cause
}

// compact rewrites the log with one record per live key.
func (ls *LogStore) compact() error {
	tmp := ls.path + ".compact"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	e := ls.enc.NewEncoder(f)
	for k, v := range ls.data {
		if err := e.Encode(logRecord{Op: opSet, Key: k, Value: v}); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("compact: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("compact: %w", err)
	}
	if err := os.Rename(tmp, ls.path); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("compact: %w", err)
	}
	ls.file.Close()
	ls.file = f
	ls.records = len(ls.data)
	return nil
}

// Get returns the latest value for key.
func (ls *LogStore) Get(key string) ([]byte, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return nil, ErrClosed
	}
	v, ok := ls.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set appends a set record.
func (ls *LogStore) Set(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.append(logRecord{Op: opSet, Key: key, Value: v})
}

// Delete appends a delete record.
func (ls *LogStore) Delete(key string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if _, ok := ls.data[key]; !ok {
		return nil
	}
	return ls.append(logRecord{Op: opDelete, Key: key})
}

// Records returns the number of records currently in the log file.
func (ls *LogStore) Records() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.records
}

// Available always returns true.
func (ls *LogStore) Available() bool { return true }

// Close closes the log file.
func (ls *LogStore) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return nil
	}
	ls.closed = true
	return ls.file.Close()
}
