package server

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// upload is a file received from the browser, kept until it is discarded or expires.
type upload struct {
	ID      string
	Name    string // original file name, used for the download
	Format  string
	Path    string
	Created time.Time
}

// uploadStore keeps uploads on disk under random IDs. Entries older than ttl
// are removed by Sweep.
type uploadStore struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	items map[string]*upload
}

func newUploadStore(dir string, ttl time.Duration, logger *slog.Logger) *uploadStore {
	return &uploadStore{
		dir:    dir,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		items:  make(map[string]*upload),
	}
}

// Save copies src to disk and registers it.
func (s *uploadStore) Save(name, format string, src io.Reader) (*upload, error) {
	id := uuid.NewString()

	f, err := os.CreateTemp(s.dir, "upload-"+id+"-*."+format)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	_, err = io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("store upload: %w", err)
	}

	up := &upload{
		ID:      id,
		Name:    name,
		Format:  format,
		Path:    f.Name(),
		Created: s.now(),
	}

	s.mu.Lock()
	s.items[id] = up
	s.mu.Unlock()
	return up, nil
}

func (s *uploadStore) Get(id string) (*upload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.items[id]
	return up, ok
}

// Remove deletes the upload and its file. It reports whether id was known.
func (s *uploadStore) Remove(id string) bool {
	s.mu.Lock()
	up, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()

	if ok {
		s.removeFile(up)
	}
	return ok
}

// Sweep removes expired uploads and returns how many were dropped.
func (s *uploadStore) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*upload
	for id, up := range s.items {
		if up.Created.Before(cutoff) {
			expired = append(expired, up)
			delete(s.items, id)
		}
	}
	s.mu.Unlock()

	for _, up := range expired {
		s.removeFile(up)
	}
	return len(expired)
}

// Clear removes every upload.
func (s *uploadStore) Clear() {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]*upload)
	s.mu.Unlock()

	for _, up := range items {
		s.removeFile(up)
	}
}

func (s *uploadStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// run sweeps every interval until done is closed.
func (s *uploadStore) run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("expired uploads removed", "count", n)
			}
		}
	}
}

func (s *uploadStore) removeFile(up *upload) {
	if err := os.Remove(up.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove upload", "id", up.ID, "path", up.Path, "error", err)
	}
}
