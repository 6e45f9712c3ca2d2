package model

import "errors"

var (
	// Command related errors
	ErrParse        = errors.New("invalid command")
	ErrPathRequired = errors.New("path is required")

	// Confirmation related errors
	ErrNoPendingRequest = errors.New("no pending deletion found for this user")
	ErrInvalidToken     = errors.New("invalid confirmation code")
	ErrExpired          = errors.New("confirmation expired")

	// Collaborator related errors
	ErrAuth         = errors.New("storage authentication failed")
	ErrCollaborator = errors.New("collaborator call failed")
	ErrTimeout      = errors.New("collaborator call timed out")

	// Storage related errors
	ErrNotFound           = errors.New("path not found")
	ErrNotAFile           = errors.New("path is not a file")
	ErrNotADirectory      = errors.New("path is not a directory")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrPathConflict       = errors.New("path conflict")

	// Summarization related errors
	ErrUnavailable     = errors.New("summarization service unavailable")
	ErrContentTooShort = errors.New("content too short to summarize")

	// Generic errors
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrSystem       = errors.New("system error")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)
