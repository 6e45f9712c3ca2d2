package model

import "time"

const (
	ItemTypeFolder = "folder"
	ItemTypeFile   = "file"
)

type StorageItem struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Label      string    `json:"label"`
	Size       int64     `json:"size"`
	SizeHuman  string    `json:"size_human"`
	ModifiedAt time.Time `json:"modified_at"`
}

type Listing struct {
	Path       string        `json:"path"`
	Folders    []StorageItem `json:"folders"`
	Files      []StorageItem `json:"files"`
	TotalCount int           `json:"total_items"`
}

type OperationResult struct {
	Message string `json:"message"`
}

type FileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Type    string `json:"type"`
	Size    int    `json:"size"`
	Note    string `json:"note,omitempty"`
}

// TrashRecord tracks an item the local drive moved to its trash directory.
type TrashRecord struct {
	ID           string `json:"id"`
	OriginalPath string `json:"original_path"`
	TrashName    string `json:"trash_name"`
	DeletedAt    string `json:"deleted_at"`
}
