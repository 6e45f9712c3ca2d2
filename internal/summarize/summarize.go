// Package summarize turns file content into short bullet summaries. Remote
// model backends are tried in order and the offline text analysis always
// answers last.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"drive-relay/internal/model"
)

const (
	DefaultMaxContentLength = 8000
	minContentLength        = 10
	truncatedMarker         = "... [truncated]"
)

// Backend is one remote summarization service.
type Backend interface {
	Name() string
	Complete(ctx context.Context, systemPrompt string, prompt string) (string, error)
}

type Service struct {
	backends         []Backend
	maxContentLength int
	logger           *slog.Logger
}

func New(maxContentLength int, logger *slog.Logger, backends ...Backend) *Service {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	if logger == nil {
		logger = slog.Default()
	}

	kept := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			kept = append(kept, b)
		}
	}
	return &Service{backends: kept, maxContentLength: maxContentLength, logger: logger}
}

// Services lists the configured backends in fallback order.
func (s *Service) Services() []string {
	names := make([]string, 0, len(s.backends)+1)
	for _, b := range s.backends {
		names = append(names, b.Name())
	}
	return append(names, BasicServiceName)
}

// Summarize rejects near-empty content and truncates long content before
// asking the backends.
func (s *Service) Summarize(ctx context.Context, content string, contextLabel string) (model.Summary, error) {
	if utf8.RuneCountInString(strings.TrimSpace(content)) < minContentLength {
		return model.Summary{}, model.ErrContentTooShort
	}
	return s.generate(ctx, s.truncate(content), contextLabel)
}

// SummarizeMany summarizes each input, skipping those that cannot be, then
// summarizes the per-file summaries as a whole.
func (s *Service) SummarizeMany(ctx context.Context, inputs []model.SummaryInput) (model.FolderSummary, error) {
	if len(inputs) == 0 {
		return model.FolderSummary{}, fmt.Errorf("%w: no files to summarize", model.ErrInvalidInput)
	}

	folder := model.FolderSummary{Files: make([]model.FileSummary, 0, len(inputs))}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return model.FolderSummary{}, err
		}

		summary, err := s.Summarize(ctx, in.Content, in.Path)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.FolderSummary{}, ctxErr
		}
		if err != nil {
			s.logger.Debug("file skipped in folder summary", "path", in.Path, "error", err)
			continue
		}
		folder.Files = append(folder.Files, model.FileSummary{
			Path:    in.Path,
			Type:    in.Type,
			Summary: summary.Text,
		})
	}

	if len(folder.Files) == 0 {
		return folder, fmt.Errorf("%w: none of the files had summarizable content", model.ErrContentTooShort)
	}

	parts := make([]string, 0, len(folder.Files))
	for _, f := range folder.Files {
		parts = append(parts, fmt.Sprintf("File: %s\nSummary: %s", f.Path, f.Summary))
	}

	overall, err := s.generate(ctx, s.truncate(strings.Join(parts, "\n\n")),
		fmt.Sprintf("Folder containing %d files", len(folder.Files)))
	if err != nil {
		return model.FolderSummary{}, err
	}
	folder.Text = overall.Text
	folder.Service = overall.Service

	return folder, nil
}

func (s *Service) truncate(content string) string {
	if utf8.RuneCountInString(content) <= s.maxContentLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:s.maxContentLength]) + truncatedMarker
}

// generate returns the context error instead of the basic fallback once ctx
// is done, so an expired deadline is never reported as a summary.
func (s *Service) generate(ctx context.Context, content string, contextLabel string) (model.Summary, error) {
	prompt := buildPrompt(content, contextLabel)

	for _, backend := range s.backends {
		text, err := backend.Complete(ctx, systemPrompt, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return model.Summary{Text: strings.TrimSpace(text), Service: backend.Name()}, nil
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		s.logger.Warn("summarization backend failed; falling back",
			"service", backend.Name(),
			"unavailable", errors.Is(err, model.ErrUnavailable),
			"error", err,
		)
		if err := ctx.Err(); err != nil {
			return model.Summary{}, fmt.Errorf("summarize %s: %w", contextLabel, err)
		}
	}

	return model.Summary{
		Text:    BasicSummary(content),
		Service: BasicServiceName,
		Note:    "AI services unavailable - using basic text analysis",
	}, nil
}

const systemPrompt = "You are a helpful assistant that creates concise, bullet-point summaries of documents."

func buildPrompt(content string, contextLabel string) string {
	var b strings.Builder
	b.WriteString("Please provide a concise bullet-point summary of the following document content.\n\n")
	b.WriteString("Context: ")
	b.WriteString(contextLabel)
	b.WriteString("\n\nContent:\n")
	b.WriteString(content)
	b.WriteString("\n\nPlease format your response as:\n• Key point 1\n• Key point 2\n• Key point 3\n(etc.)\n\n")
	b.WriteString("Focus on the main themes, important decisions, action items, and key findings.")
	return b.String()
}
