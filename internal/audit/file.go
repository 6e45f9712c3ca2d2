package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"drive-relay/internal/model"
)

// FileStore appends one JSON document per line. Once the file holds more
// than the ceiling plus a slack band it is rewritten with only the newest
// entries; reads only ever see the newest maxEntries lines.
type FileStore struct {
	filePath   string
	maxEntries int
	slack      int

	mu    sync.Mutex
	lines int
}

func NewFileStore(filePath string, maxEntries int) (*FileStore, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, fmt.Errorf("audit file path cannot be empty")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare audit directory: %w", err)
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := os.WriteFile(filePath, []byte{}, 0o644); err != nil {
			return nil, fmt.Errorf("initialize audit file: %w", err)
		}
	}

	slack := maxEntries / 10
	if slack < 1 {
		slack = 1
	}

	s := &FileStore{filePath: filePath, maxEntries: maxEntries, slack: slack}

	entries, err := s.readAllLocked()
	if err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	s.lines = len(entries)

	return s, nil
}

func (s *FileStore) Name() string {
	return "file"
}

func (s *FileStore) Insert(_ context.Context, entry model.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}

	// One Write call per entry keeps concurrent appenders from interleaving.
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit file: %w", err)
	}

	s.lines++
	if s.lines > s.maxEntries+s.slack {
		if err := s.compactLocked(); err != nil {
			slog.Error("audit compaction failed", "file", s.filePath, "error", err)
		}
	}

	return nil
}

func (s *FileStore) Select(_ context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	s.mu.Lock()
	entries, err := s.readAllLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return selectNewestFirst(s.live(entries), filter), nil
}

func (s *FileStore) Count(_ context.Context, filter model.AuditFilter) (int, error) {
	s.mu.Lock()
	entries, err := s.readAllLocked()
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range s.live(entries) {
		if filter.Match(entry) {
			count++
		}
	}
	return count, nil
}

func (s *FileStore) Size(_ context.Context) (StoreSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.filePath)
	if err != nil {
		return StoreSize{}, err
	}

	entries := s.lines
	if entries > s.maxEntries {
		entries = s.maxEntries
	}
	return StoreSize{Entries: entries, Bytes: info.Size()}, nil
}

func (s *FileStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.filePath)
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *FileStore) live(entries []model.AuditEntry) []model.AuditEntry {
	if len(entries) > s.maxEntries {
		return entries[len(entries)-s.maxEntries:]
	}
	return entries
}

func (s *FileStore) readAllLocked() ([]model.AuditEntry, error) {
	f, err := os.Open(s.filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	items := make([]model.AuditEntry, 0, 128)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry model.AuditEntry
		if unmarshalErr := json.Unmarshal([]byte(line), &entry); unmarshalErr != nil {
			continue
		}
		items = append(items, entry)
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return nil, scanErr
	}

	return items, nil
}

// compactLocked rewrites the file with the newest maxEntries entries via a
// temp file and rename.
func (s *FileStore) compactLocked() error {
	entries, err := s.readAllLocked()
	if err != nil {
		return err
	}
	kept := s.live(entries)

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".audit-*.jsonl")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	writer := bufio.NewWriter(tmp)
	for _, entry := range kept {
		data, marshalErr := json.Marshal(entry)
		if marshalErr != nil {
			continue
		}
		_, _ = writer.Write(append(data, '\n'))
	}
	if err := writer.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.filePath); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	s.lines = len(kept)
	return nil
}
