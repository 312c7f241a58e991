// Package storage implements the deterministic on-disk artifact layout for
// raw knowledge sources (C6, spec §4.6): <root>/<client>/<base>/<document>/.
// Descended from the teacher's internal/storage.Manager (a conversation/
// document filesystem manager), repurposed from JSON conversation manifests
// to the knowledge-document artifact layout this spec calls for.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Sink persists raw source artifacts under a deterministic per-tenant
// directory layout and returns the absolute path so callers can stamp it
// onto KnowledgeDocument.storage_path.
type Sink struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSink initializes a Sink rooted at the provided directory.
func NewSink(root string) (*Sink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Sink{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

// DocumentDir returns <root>/<client>/<base>/<document>, creating it if
// needed. Directory creation is idempotent and safe under concurrent
// creation (spec §5 shared-resource policy).
func (s *Sink) DocumentDir(clientID, baseID, documentID uuid.UUID) (string, error) {
	dir := s.documentDir(clientID, baseID, documentID)

	lock := s.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create document directory %q: %w", dir, err)
	}
	return dir, nil
}

// PersistUploadedFile writes the uploaded bytes as source<suffix> (suffix
// preserved from the original filename, default .bin) and returns the
// absolute path.
func (s *Sink) PersistUploadedFile(clientID, baseID, documentID uuid.UUID, originalFilename string, data []byte) (string, error) {
	dir, err := s.DocumentDir(clientID, baseID, documentID)
	if err != nil {
		return "", err
	}

	suffix := strings.ToLower(filepath.Ext(originalFilename))
	if suffix == "" {
		suffix = ".bin"
	}

	target := filepath.Join(dir, "source"+suffix)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write uploaded file: %w", err)
	}
	return target, nil
}

// PersistTextContent writes content as text<extension> (e.g. ".txt",
// ".meta.txt", ".url.txt") and returns the absolute path.
func (s *Sink) PersistTextContent(clientID, baseID, documentID uuid.UUID, content, extension string) (string, error) {
	dir, err := s.DocumentDir(clientID, baseID, documentID)
	if err != nil {
		return "", err
	}

	if extension == "" {
		extension = ".txt"
	}

	target := filepath.Join(dir, "text"+extension)
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write text artifact: %w", err)
	}
	return target, nil
}

func (s *Sink) documentDir(clientID, baseID, documentID uuid.UUID) string {
	return filepath.Join(s.root, clientID.String(), baseID.String(), documentID.String())
}

func (s *Sink) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[key] = lock
	return lock
}
