package dispatcher

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"drive-relay/internal/event"
	"drive-relay/internal/model"
	"drive-relay/internal/parser"
)

func (d *Dispatcher) handleList(ctx context.Context, userID string, cmd model.Command) string {
	commandType := string(model.IntentList)
	if reply, ok := d.ensureAuthenticated(ctx, userID, commandType, cmd); !ok {
		return reply
	}

	var listing model.Listing
	err := d.call(ctx, func(callCtx context.Context) error {
		var listErr error
		listing, listErr = d.deps.Storage.List(callCtx, cmd.Path)
		return listErr
	})
	if err != nil {
		d.auditFailure(ctx, userID, commandType, cmd, err)
		return errorReply("Error listing files", err)
	}

	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:      userID,
		CommandType: commandType,
		Path:        cmd.Path,
		Result:      model.ResultSuccess,
		Extra:       map[string]any{"items_found": listing.TotalCount},
	})
	return listReply(cmd.Path, listing)
}

func (d *Dispatcher) handleDeleteRequest(ctx context.Context, userID string, cmd model.Command) string {
	pending := d.deps.Gate.RequestDeletion(userID, cmd.Path)

	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:      userID,
		CommandType: model.CommandDeleteRequest,
		Path:        cmd.Path,
		Result:      model.ResultPendingConfirmation,
		Extra: map[string]any{
			"expires_at": pending.ExpiresAt,
		},
	})
	d.publish(event.TypeDeleteRequested, userID, map[string]any{"path": cmd.Path, "expires_at": pending.ExpiresAt})

	return deleteConfirmationReply(cmd.Path, pending.Token, d.deps.Gate.Window())
}

// handleConfirmation authenticates before verifying so a storage outage does
// not burn the user's token.
func (d *Dispatcher) handleConfirmation(ctx context.Context, userID string, cmd model.Command) string {
	pending, hasPending := d.deps.Gate.Lookup(userID)
	authCmd := cmd
	if hasPending {
		authCmd = model.Command{Intent: model.IntentDelete, Path: pending.TargetPath}
	}
	if reply, ok := d.ensureAuthenticated(ctx, userID, model.CommandDeleteConfirmed, authCmd); !ok {
		return reply
	}

	result := d.deps.Gate.Verify(userID, cmd.RawText)
	if !result.Verified {
		d.deps.Audit.Append(ctx, model.AuditRecord{
			UserID:       userID,
			CommandType:  model.CommandDeleteConfirmed,
			Path:         authCmd.Path,
			Result:       model.ResultFailed,
			ErrorMessage: result.Err.Error(),
		})
		return confirmationFailedReply(result.Err)
	}

	target := model.Command{Intent: model.IntentDelete, Path: result.Path}
	var op model.OperationResult
	err := d.call(ctx, func(callCtx context.Context) error {
		var deleteErr error
		op, deleteErr = d.deps.Storage.Delete(callCtx, result.Path)
		return deleteErr
	})
	if err != nil {
		d.auditFailure(ctx, userID, model.CommandDeleteConfirmed, target, err)
		return deletionFailedReply(result.Path, err)
	}

	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:      userID,
		CommandType: model.CommandDeleteConfirmed,
		Path:        result.Path,
		Result:      model.ResultSuccess,
		Extra:       map[string]any{"status": op.Message},
	})
	d.publish(event.TypeFileDeleted, userID, map[string]any{"path": result.Path})

	return deletedReply(result.Path, op)
}

func (d *Dispatcher) handleMove(ctx context.Context, userID string, cmd model.Command) string {
	commandType := string(model.IntentMove)
	if reply, ok := d.ensureAuthenticated(ctx, userID, commandType, cmd); !ok {
		return reply
	}

	err := d.call(ctx, func(callCtx context.Context) error {
		_, moveErr := d.deps.Storage.Move(callCtx, cmd.Path, cmd.DestinationPath)
		return moveErr
	})
	if err != nil {
		d.auditFailure(ctx, userID, commandType, cmd, err)
		return errorReply("Move Failed", err)
	}

	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:          userID,
		CommandType:     commandType,
		Path:            cmd.Path,
		DestinationPath: cmd.DestinationPath,
		Result:          model.ResultSuccess,
	})
	d.publish(event.TypeFileMoved, userID, map[string]any{"from": cmd.Path, "to": cmd.DestinationPath})

	return movedReply(cmd.Path, cmd.DestinationPath)
}

// handleSummary treats the path as a file first and falls back to a folder
// when its content cannot be fetched.
func (d *Dispatcher) handleSummary(ctx context.Context, userID string, cmd model.Command) string {
	commandType := string(model.IntentSummary)
	if reply, ok := d.ensureAuthenticated(ctx, userID, commandType, cmd); !ok {
		return reply
	}

	var content model.FileContent
	fileErr := d.call(ctx, func(callCtx context.Context) error {
		var getErr error
		content, getErr = d.deps.Storage.GetContent(callCtx, cmd.Path)
		return getErr
	})
	if fileErr == nil {
		return d.summarizeFile(ctx, userID, cmd, content)
	}

	slog.Debug("summary target is not a readable file; trying folder", "path", cmd.Path, "error", fileErr)
	return d.summarizeFolder(ctx, userID, cmd)
}

func (d *Dispatcher) summarizeFile(ctx context.Context, userID string, cmd model.Command, content model.FileContent) string {
	commandType := string(model.IntentSummary)

	var summary model.Summary
	err := d.call(ctx, func(callCtx context.Context) error {
		var sumErr error
		summary, sumErr = d.deps.Summarizer.Summarize(callCtx, content.Content, cmd.Path)
		return sumErr
	})
	if err != nil {
		d.auditFailure(ctx, userID, commandType, cmd, err)
		return errorReply("Summarization Failed", err)
	}

	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:      userID,
		CommandType: commandType,
		Path:        cmd.Path,
		Result:      model.ResultSuccess,
		Extra:       map[string]any{"service": summary.Service, "files_analyzed": 1},
	})
	d.publish(event.TypeSummaryGenerated, userID, map[string]any{"path": cmd.Path, "service": summary.Service})

	return fileSummaryReply(cmd.Path, summary, content)
}

func (d *Dispatcher) summarizeFolder(ctx context.Context, userID string, cmd model.Command) string {
	commandType := string(model.IntentSummary)

	var listing model.Listing
	err := d.call(ctx, func(callCtx context.Context) error {
		var listErr error
		listing, listErr = d.deps.Storage.List(callCtx, cmd.Path)
		return listErr
	})
	if err != nil {
		d.auditFailure(ctx, userID, commandType, cmd, err)
		return errorReply("Summary Failed", err)
	}

	inputs := d.fetchFolderFiles(ctx, cmd.Path, listing.Files)
	if len(inputs) == 0 {
		d.deps.Audit.Append(ctx, model.AuditRecord{
			UserID:       userID,
			CommandType:  commandType,
			Path:         cmd.Path,
			Result:       model.ResultFailed,
			ErrorMessage: "no summarizable files",
			Extra:        map[string]any{"files_analyzed": 0},
		})
		return noSummarizableFilesReply(cmd.Path, listing)
	}

	var folder model.FolderSummary
	err = d.call(ctx, func(callCtx context.Context) error {
		var sumErr error
		folder, sumErr = d.deps.Summarizer.SummarizeMany(callCtx, inputs)
		return sumErr
	})
	if err != nil {
		d.auditFailure(ctx, userID, commandType, cmd, err)
		return errorReply("Summarization Failed", err)
	}

	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:      userID,
		CommandType: commandType,
		Path:        cmd.Path,
		Result:      model.ResultSuccess,
		Extra: map[string]any{
			"service":        folder.Service,
			"files_analyzed": len(inputs),
		},
	})
	d.publish(event.TypeSummaryGenerated, userID, map[string]any{"path": cmd.Path, "service": folder.Service})

	return folderSummaryReply(cmd.Path, folder, len(inputs), len(listing.Files), d.cfg.MaxFilesPerSummary)
}

// fetchFolderFiles loads up to MaxFilesPerSummary files concurrently,
// keeping listing order and dropping any that fail.
func (d *Dispatcher) fetchFolderFiles(ctx context.Context, folder string, files []model.StorageItem) []model.SummaryInput {
	if len(files) > d.cfg.MaxFilesPerSummary {
		files = files[:d.cfg.MaxFilesPerSummary]
	}

	results := make([]*model.SummaryInput, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.FetchConcurrency)

	for i, file := range files {
		i, filePath := i, parser.Join(folder, file.Name)
		g.Go(func() error {
			var content model.FileContent
			err := d.call(gctx, func(callCtx context.Context) error {
				var getErr error
				content, getErr = d.deps.Storage.GetContent(callCtx, filePath)
				return getErr
			})
			if err != nil {
				slog.Debug("folder summary skipped file", "path", filePath, "error", err)
				return nil
			}
			results[i] = &model.SummaryInput{Path: filePath, Content: content.Content, Type: content.Type}
			return nil
		})
	}
	_ = g.Wait()

	inputs := make([]model.SummaryInput, 0, len(results))
	for _, r := range results {
		if r != nil {
			inputs = append(inputs, *r)
		}
	}
	return inputs
}

func (d *Dispatcher) auditFailure(ctx context.Context, userID string, commandType string, cmd model.Command, err error) {
	extra := map[string]any{}
	if errors.Is(err, model.ErrTimeout) {
		extra["timeout"] = true
	}
	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:          userID,
		CommandType:     commandType,
		Path:            cmd.Path,
		DestinationPath: cmd.DestinationPath,
		Result:          model.ResultFailed,
		ErrorMessage:    err.Error(),
		Extra:           extra,
	})
}
