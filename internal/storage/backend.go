// Package storage is the file collaborator the dispatcher executes commands
// against: a local directory tree with a trash area, plus a testify mock.
package storage

import (
	"context"

	"drive-relay/internal/model"
)

// Backend is what the dispatcher needs from a drive. Delete moves to trash;
// Move relocates an item into an existing destination folder.
type Backend interface {
	Authenticate(ctx context.Context) error
	Authenticated() bool
	List(ctx context.Context, folderPath string) (model.Listing, error)
	Delete(ctx context.Context, path string) (model.OperationResult, error)
	Move(ctx context.Context, sourcePath string, destinationFolder string) (model.OperationResult, error)
	GetContent(ctx context.Context, path string) (model.FileContent, error)
}
