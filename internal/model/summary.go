package model

type Summary struct {
	Text    string `json:"summary"`
	Service string `json:"service"`
	Note    string `json:"note,omitempty"`
}

// SummaryInput is one file handed to a folder-level summary.
type SummaryInput struct {
	Path    string
	Content string
	Type    string
}

type FolderSummary struct {
	Text    string        `json:"summary"`
	Service string        `json:"service"`
	Files   []FileSummary `json:"files"`
}

type FileSummary struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}
