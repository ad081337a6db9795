package kvstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Snapshot is an immutable in-memory view of a LevelDB store, read once and
// discarded after use.
type Snapshot struct {
	entries map[string][]byte
}

// NewSnapshot builds a snapshot from already-loaded entries, for stores
// read elsewhere and for tests.
func NewSnapshot(entries map[string][]byte) *Snapshot {
	copied := make(map[string][]byte, len(entries))
	for key, value := range entries {
		copied[key] = append([]byte(nil), value...)
	}
	return &Snapshot{entries: copied}
}

// Get returns the value for key as a UTF-8 string.
func (s *Snapshot) Get(key string) (string, bool) {
	value, ok := s.entries[key]
	if !ok {
		return "", false
	}
	return string(value), true
}

// GetRaw returns the value for key as raw bytes.
func (s *Snapshot) GetRaw(key string) ([]byte, bool) {
	value, ok := s.entries[key]
	return value, ok
}

// Range calls fn for every entry until fn returns false.
func (s *Snapshot) Range(fn func(key string, value []byte) bool) {
	for key, value := range s.entries {
		if !fn(key, value) {
			return
		}
	}
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// ReadSnapshot loads every key/value pair from the LevelDB store at path.
// The store is copied to a scratch directory before opening so a running
// browser holding the original is never locked or mutated; the scratch copy
// is removed on every exit path. A missing path reports an error satisfying
// errors.Is(err, os.ErrNotExist), which callers treat as "not installed".
func ReadSnapshot(path string) (*Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store path is not a directory: %s", path)
	}

	scratch, err := os.MkdirTemp("", "kvsnapshot-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := copyStore(path, scratch); err != nil {
		return nil, fmt.Errorf("copy store: %w", err)
	}

	db, err := openCopy(scratch)
	if err != nil {
		return nil, fmt.Errorf("open store copy: %w", err)
	}
	defer db.Close()

	entries := make(map[string][]byte)
	iter := db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		entries[string(key)] = value
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate store: %w", err)
	}

	return &Snapshot{entries: entries}, nil
}

func openCopy(dir string) (*leveldb.DB, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{ErrorIfMissing: true})
	if err == nil {
		return db, nil
	}
	// Chrome often leaves the store without a clean shutdown; recovery
	// rebuilds the manifest on the scratch copy, never the original.
	if ldberrors.IsCorrupted(err) {
		return leveldb.RecoverFile(dir, nil)
	}
	return nil, err
}

func copyStore(src, dst string) error {
	dirEntries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}
		if entry.Name() == "LOCK" {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
