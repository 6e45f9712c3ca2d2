package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"drive-relay/internal/model"
)

const trashIndexFile = "index.jsonl"

// Trash holds deleted items under unique names and keeps an index of where
// each one came from.
type Trash struct {
	root string
	now  func() time.Time

	mu sync.Mutex
}

func NewTrash(root string) (*Trash, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("trash root cannot be empty")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve trash root: %w", err)
	}
	return &Trash{root: rootAbs, now: time.Now}, nil
}

func (t *Trash) Root() string {
	return t.root
}

func (t *Trash) ensure() error {
	return os.MkdirAll(t.root, 0o755)
}

// Put moves sourceAbs into the trash and records originalPath for it.
func (t *Trash) Put(sourceAbs string, originalPath string) (model.TrashRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensure(); err != nil {
		return model.TrashRecord{}, fmt.Errorf("prepare trash: %w", err)
	}

	record := model.TrashRecord{
		ID:           uuid.NewString(),
		OriginalPath: originalPath,
		DeletedAt:    t.now().UTC().Format(time.RFC3339),
	}
	record.TrashName = record.ID + "_" + filepath.Base(sourceAbs)

	if err := movePath(sourceAbs, filepath.Join(t.root, record.TrashName)); err != nil {
		return model.TrashRecord{}, fmt.Errorf("move to trash: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return record, fmt.Errorf("marshal trash record: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(t.root, trashIndexFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return record, fmt.Errorf("open trash index: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return record, fmt.Errorf("write trash index: %w", err)
	}

	return record, nil
}

func (t *Trash) Records() ([]model.TrashRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(filepath.Join(t.root, trashIndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return []model.TrashRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := make([]model.TrashRecord, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record model.TrashRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}

// movePath renames, falling back to copy and remove across filesystems.
func movePath(source string, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}

	if err := os.Rename(source, destination); err == nil {
		return nil
	} else if !isCrossDeviceRenameError(err) {
		return err
	}

	if err := copyPathRecursive(source, destination); err != nil {
		return err
	}

	return os.RemoveAll(source)
}

func isCrossDeviceRenameError(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && strings.Contains(strings.ToLower(linkErr.Err.Error()), "cross-device") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "cross-device")
}

func copyPathRecursive(source string, destination string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return copyFile(source, destination, info.Mode())
	}

	return filepath.WalkDir(source, func(current string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, relErr := filepath.Rel(source, current)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(destination, rel)

		entryInfo, infoErr := entry.Info()
		if infoErr != nil {
			return infoErr
		}
		if entry.IsDir() {
			return os.MkdirAll(target, entryInfo.Mode().Perm())
		}
		return copyFile(current, target, entryInfo.Mode())
	})
}

func copyFile(source string, destination string, mode os.FileMode) error {
	input, err := os.Open(source)
	if err != nil {
		return err
	}
	defer input.Close()

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}

	output, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(output, input)
	closeErr := output.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}
