package model

import "time"

// Synthetic command types recorded next to the user intents.
const (
	CommandDeleteRequest     = "DELETE_REQUEST"
	CommandDeleteConfirmed   = "DELETE_CONFIRMED"
	CommandRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CommandError             = "ERROR"
	CommandMessage           = "WHATSAPP_MESSAGE"
	CommandStorageAuth       = "STORAGE_AUTH"
)

const (
	ResultSuccess             = "success"
	ResultFailed              = "failed"
	ResultPendingConfirmation = "pending_confirmation"
	ResultBlocked             = "blocked"
	ResultSystemError         = "system_error"
	ResultAuthFailed          = "auth_failed"
	ResultConfirmed           = "confirmed"
	ResultProcessed           = "processed"
)

type AuditEntry struct {
	LogID           string         `json:"log_id"`
	Timestamp       time.Time      `json:"timestamp"`
	UserID          string         `json:"user_id"`
	CommandType     string         `json:"command_type"`
	Path            string         `json:"path,omitempty"`
	DestinationPath string         `json:"destination_path,omitempty"`
	Result          string         `json:"result"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// AuditRecord carries the caller-supplied fields of an entry; the trail
// fills in LogID and Timestamp.
type AuditRecord struct {
	UserID          string
	CommandType     string
	Path            string
	DestinationPath string
	Result          string
	ErrorMessage    string
	Extra           map[string]any
}

type AuditFilter struct {
	UserID      string
	CommandType string
	Result      string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Match reports whether the entry satisfies every non-empty filter field.
func (f AuditFilter) Match(e AuditEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.CommandType != "" && e.CommandType != f.CommandType {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if !f.Since.IsZero() && !e.Timestamp.After(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

type UserStatistics struct {
	UserID        string         `json:"user_id"`
	PeriodDays    int            `json:"period_days"`
	TotalCommands int            `json:"total_commands"`
	ByType        map[string]int `json:"commands_by_type"`
	SuccessCount  int            `json:"successful_commands"`
	FailureCount  int            `json:"failed_commands"`
	PathsAccessed []string       `json:"files_accessed"`
	UniquePaths   int            `json:"unique_files_accessed"`
	LastActivity  *time.Time     `json:"last_activity"`
}

type AuditHealth struct {
	Timestamp            time.Time `json:"timestamp"`
	Backend              string    `json:"backend"`
	Reachable            bool      `json:"reachable"`
	Error                string    `json:"error,omitempty"`
	PendingConfirmations int       `json:"pending_deletions"`
	RecentVolume         int       `json:"last_24h_commands"`
	UniqueUsers          int       `json:"last_24h_unique_users"`
	SuccessRatio         float64   `json:"last_24h_success_rate"`
	StoredEntries        int       `json:"stored_entries"`
	StorageBytes         int64     `json:"storage_bytes,omitempty"`
}
