package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"drive-relay/internal/model"
)

// maxReadBytes bounds how much of one file GetContent loads; summaries
// truncate far below this.
const maxReadBytes = 1 << 20

// Drive serves a directory tree on local disk as the storage collaborator.
type Drive struct {
	validator     *PathValidator
	trash         *Trash
	authenticated atomic.Bool
}

func NewDrive(root string, trashRoot string) (*Drive, error) {
	validator, err := NewPathValidator(root)
	if err != nil {
		return nil, err
	}

	trash, err := NewTrash(trashRoot)
	if err != nil {
		return nil, err
	}

	if isWithinRoot(validator.RootAbs(), trash.Root()) {
		return nil, fmt.Errorf("trash root %q must live outside storage root %q", trash.Root(), validator.RootAbs())
	}

	if err := os.MkdirAll(validator.RootAbs(), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &Drive{validator: validator, trash: trash}, nil
}

func (d *Drive) RootAbs() string {
	return d.validator.RootAbs()
}

func (d *Drive) Trash() *Trash {
	return d.trash
}

func (d *Drive) Authenticated() bool {
	return d.authenticated.Load()
}

// Authenticate checks that the root is a writable directory and the trash
// can be created.
func (d *Drive) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(d.RootAbs())
	if err != nil {
		d.authenticated.Store(false)
		return fmt.Errorf("%w: %v", model.ErrAuth, err)
	}
	if !info.IsDir() {
		d.authenticated.Store(false)
		return fmt.Errorf("%w: storage root is not a directory", model.ErrAuth)
	}

	probe, err := os.CreateTemp(d.RootAbs(), ".relay-probe-*")
	if err != nil {
		d.authenticated.Store(false)
		return fmt.Errorf("%w: storage root is not writable: %v", model.ErrAuth, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	if err := d.trash.ensure(); err != nil {
		d.authenticated.Store(false)
		return fmt.Errorf("%w: prepare trash: %v", model.ErrAuth, err)
	}

	d.authenticated.Store(true)
	slog.Info("storage authenticated", "root", d.RootAbs(), "trash", d.trash.Root())
	return nil
}

func (d *Drive) requireAuth() error {
	if !d.Authenticated() {
		return fmt.Errorf("%w: not authenticated with storage", model.ErrAuth)
	}
	return nil
}

func (d *Drive) List(ctx context.Context, folderPath string) (model.Listing, error) {
	if err := ctx.Err(); err != nil {
		return model.Listing{}, err
	}
	if err := d.requireAuth(); err != nil {
		return model.Listing{}, err
	}

	resolved, err := d.validator.ResolvePath(folderPath)
	if err != nil {
		return model.Listing{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return model.Listing{}, statError(err, "folder", folderPath)
	}
	if !info.IsDir() {
		return model.Listing{}, fmt.Errorf("%w: %s", model.ErrNotADirectory, folderPath)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return model.Listing{}, fmt.Errorf("%w: read folder %s: %v", model.ErrCollaborator, folderPath, err)
	}

	listing := model.Listing{
		Path:    displayPath(folderPath),
		Folders: make([]model.StorageItem, 0),
		Files:   make([]model.StorageItem, 0),
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".relay-probe-") {
			continue
		}

		entryInfo, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}

		item := model.StorageItem{
			Name:       entry.Name(),
			Label:      TypeLabel(entry.Name(), entry.IsDir()),
			ModifiedAt: entryInfo.ModTime().UTC(),
		}
		if entry.IsDir() {
			item.Type = model.ItemTypeFolder
			item.SizeHuman = FormatSize(0)
			listing.Folders = append(listing.Folders, item)
			continue
		}

		item.Type = model.ItemTypeFile
		item.Size = entryInfo.Size()
		item.SizeHuman = FormatSize(item.Size)
		listing.Files = append(listing.Files, item)
	}

	listing.TotalCount = len(listing.Folders) + len(listing.Files)
	return listing, nil
}

func (d *Drive) Delete(ctx context.Context, target string) (model.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return model.OperationResult{}, err
	}
	if err := d.requireAuth(); err != nil {
		return model.OperationResult{}, err
	}

	resolved, err := d.validator.ResolvePath(target)
	if err != nil {
		return model.OperationResult{}, err
	}
	if resolved == d.RootAbs() {
		return model.OperationResult{}, fmt.Errorf("%w: the storage root cannot be deleted", model.ErrInvalidInput)
	}

	if _, err := os.Lstat(resolved); err != nil {
		return model.OperationResult{}, statError(err, "file", target)
	}

	record, err := d.trash.Put(resolved, displayPath(target))
	if err != nil {
		return model.OperationResult{}, fmt.Errorf("%w: %v", model.ErrCollaborator, err)
	}

	slog.Info("item moved to trash", "path", record.OriginalPath, "trash_id", record.ID)
	return model.OperationResult{Message: "File moved to trash: " + displayPath(target)}, nil
}

func (d *Drive) Move(ctx context.Context, sourcePath string, destinationFolder string) (model.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return model.OperationResult{}, err
	}
	if err := d.requireAuth(); err != nil {
		return model.OperationResult{}, err
	}

	sourceResolved, err := d.validator.ResolvePath(sourcePath)
	if err != nil {
		return model.OperationResult{}, err
	}
	if sourceResolved == d.RootAbs() {
		return model.OperationResult{}, fmt.Errorf("%w: the storage root cannot be moved", model.ErrInvalidInput)
	}
	if _, err := os.Lstat(sourceResolved); err != nil {
		return model.OperationResult{}, statError(err, "source file", sourcePath)
	}

	destResolved, err := d.validator.ResolvePath(destinationFolder)
	if err != nil {
		return model.OperationResult{}, err
	}
	destInfo, err := os.Stat(destResolved)
	if err != nil {
		return model.OperationResult{}, statError(err, "destination folder", destinationFolder)
	}
	if !destInfo.IsDir() {
		return model.OperationResult{}, fmt.Errorf("%w: destination %s", model.ErrNotADirectory, destinationFolder)
	}

	if isWithinRoot(sourceResolved, destResolved) {
		return model.OperationResult{}, fmt.Errorf("%w: cannot move a folder into itself", model.ErrInvalidInput)
	}

	target := filepath.Join(destResolved, filepath.Base(sourceResolved))
	if target == sourceResolved {
		return model.OperationResult{}, fmt.Errorf("%w: %s is already in %s", model.ErrPathConflict, sourcePath, destinationFolder)
	}
	if _, err := os.Lstat(target); err == nil {
		return model.OperationResult{}, fmt.Errorf("%w: %s already exists in %s", model.ErrPathConflict, filepath.Base(sourceResolved), destinationFolder)
	}

	if err := movePath(sourceResolved, target); err != nil {
		return model.OperationResult{}, fmt.Errorf("%w: move %s: %v", model.ErrCollaborator, sourcePath, err)
	}

	return model.OperationResult{
		Message: fmt.Sprintf("File moved from %s to %s", displayPath(sourcePath), displayPath(destinationFolder)),
	}, nil
}

func (d *Drive) GetContent(ctx context.Context, filePath string) (model.FileContent, error) {
	if err := ctx.Err(); err != nil {
		return model.FileContent{}, err
	}
	if err := d.requireAuth(); err != nil {
		return model.FileContent{}, err
	}

	resolved, err := d.validator.ResolvePath(filePath)
	if err != nil {
		return model.FileContent{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return model.FileContent{}, statError(err, "file", filePath)
	}
	if info.IsDir() {
		return model.FileContent{}, fmt.Errorf("%w: %s", model.ErrNotAFile, filePath)
	}

	file, err := os.Open(resolved)
	if err != nil {
		return model.FileContent{}, fmt.Errorf("%w: open %s: %v", model.ErrCollaborator, filePath, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxReadBytes))
	if err != nil {
		return model.FileContent{}, fmt.Errorf("%w: read %s: %v", model.ErrCollaborator, filePath, err)
	}

	content := model.FileContent{Path: displayPath(filePath)}

	switch contentKind(resolved, http.DetectContentType(data)) {
	case contentText:
		if !utf8.Valid(data) {
			return model.FileContent{}, fmt.Errorf("%w: %s is not valid UTF-8 text", model.ErrUnsupportedContent, filePath)
		}
		content.Type = contentText
		content.Content = string(data)
		content.Size = len(content.Content)
	case contentPDF:
		content.Type = contentPDF
		content.Content = "[PDF content extraction is not available]"
		content.Note = "PDF text extraction is not supported by the local drive"
	case contentDocx:
		content.Type = contentDocx
		content.Content = "[DOCX content extraction is not available]"
		content.Note = "DOCX text extraction is not supported by the local drive"
	default:
		return model.FileContent{}, fmt.Errorf("%w: %s", model.ErrUnsupportedContent, filepath.Ext(filePath))
	}

	return content, nil
}

func statError(err error, what string, p string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s not found: %s", model.ErrNotFound, what, displayPath(p))
	}
	return fmt.Errorf("%w: stat %s: %v", model.ErrCollaborator, p, err)
}

func displayPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if strings.EqualFold(trimmed, "root") {
		return "/"
	}
	return path.Clean("/" + strings.ReplaceAll(trimmed, `\`, "/"))
}
