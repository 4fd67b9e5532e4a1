// Package state persists the last-known real-world record of every
// managed resource. A store holds a single versioned document mapping
// address to resource state; every mutation is durable before it returns,
// so a crash mid-apply leaves a consistent partial state.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/accord-io/accord/internal/ir"
)

// CorruptError reports an unreadable or unrecognized-version state
// document. Reconciliation refuses to proceed rather than risk
// double-provisioning or orphaning resources.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is not usable: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store is the persisted record of managed resources. Writes to different
// addresses may proceed concurrently; writes to the same address are
// serialized.
type Store interface {
	// Read returns the stored record for an address, if any.
	Read(address string) (*ir.ResourceState, bool)

	// All returns a copy of every stored record keyed by address.
	All() map[string]*ir.ResourceState

	// Write durably persists a record before returning.
	Write(address string, rs *ir.ResourceState) error

	// Delete durably removes a record before returning.
	Delete(address string) error

	// SetOutputs durably replaces the stored root output values.
	SetOutputs(outputs map[string]any) error

	// Snapshot returns a deep-enough copy of the whole document for
	// inspection and serialization.
	Snapshot() *ir.State

	// Lock and Unlock guard the store against concurrent processes.
	Lock() error
	Unlock() error
}

// FileStore keeps the document in a local JSON file. Each mutation
// rewrites the file through a temp file and an atomic rename, so a torn
// write never leaves a record that is neither the old nor the new value.
type FileStore struct {
	path string

	// mu guards the document and its flush to disk. Per-address
	// serialization on top of it lives in addrLocks so same-address
	// writers queue without blocking readers of other addresses longer
	// than the short flush itself.
	mu        sync.Mutex
	doc       *ir.State
	addrLocks map[string]*sync.Mutex
	lockMu    sync.Mutex
}

// OpenFile loads (or initializes) the state document at path.
func OpenFile(path string) (*FileStore, error) {
	doc, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		path:      path,
		doc:       doc,
		addrLocks: make(map[string]*sync.Mutex),
	}, nil
}

func loadDocument(path string) (*ir.State, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		doc := ir.NewState()
		doc.Lineage = uuid.NewString()
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	if IsEncrypted(raw) {
		raw, err = Decrypt(raw)
		if err != nil {
			return nil, &CorruptError{Path: path, Err: err}
		}
	}

	var doc ir.State
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}

	migrated, err := migrate(&doc)
	if err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return migrated, nil
}

// migrate upgrades older document versions in place and rejects versions
// this build does not recognize.
func migrate(doc *ir.State) (*ir.State, error) {
	switch {
	case doc.Version == ir.StateVersion:
	case doc.Version > ir.StateVersion:
		return nil, fmt.Errorf("state schema version %d is newer than this build supports (%d)", doc.Version, ir.StateVersion)
	case doc.Version < 0:
		return nil, fmt.Errorf("state schema version %d is not recognized", doc.Version)
	default:
		// Version 0 documents predate the schema-version field.
		doc.Version = ir.StateVersion
	}
	if doc.Resources == nil {
		doc.Resources = make(map[string]*ir.ResourceState)
	}
	if doc.Lineage == "" {
		doc.Lineage = uuid.NewString()
	}
	return doc, nil
}

func (s *FileStore) addrLock(address string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.addrLocks[address]
	if !ok {
		m = &sync.Mutex{}
		s.addrLocks[address] = m
	}
	return m
}

func (s *FileStore) Read(address string) (*ir.ResourceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.doc.Resources[address]
	return rs, ok
}

func (s *FileStore) All() map[string]*ir.ResourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*ir.ResourceState, len(s.doc.Resources))
	for addr, rs := range s.doc.Resources {
		out[addr] = rs
	}
	return out
}

func (s *FileStore) Write(address string, rs *ir.ResourceState) error {
	l := s.addrLock(address)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Resources[address] = rs
	s.doc.Serial++
	return s.flushLocked()
}

func (s *FileStore) Delete(address string) error {
	l := s.addrLock(address)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Resources[address]; !ok {
		return nil
	}
	delete(s.doc.Resources, address)
	s.doc.Serial++
	return s.flushLocked()
}

func (s *FileStore) SetOutputs(outputs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Outputs = outputs
	s.doc.Serial++
	return s.flushLocked()
}

func (s *FileStore) Snapshot() *ir.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.doc
	cp.Resources = make(map[string]*ir.ResourceState, len(s.doc.Resources))
	for addr, rs := range s.doc.Resources {
		r := *rs
		cp.Resources[addr] = &r
	}
	return &cp
}

// flushLocked writes the document through a temp file in the same
// directory and renames it over the target. Callers hold s.mu.
func (s *FileStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	content = append(content, '\n')

	content, err = Encrypt(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
