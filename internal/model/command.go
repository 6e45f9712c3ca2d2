package model

// Intent is the kind of action a chat message asks for.
type Intent string

const (
	IntentList    Intent = "LIST"
	IntentDelete  Intent = "DELETE"
	IntentMove    Intent = "MOVE"
	IntentSummary Intent = "SUMMARY"
	IntentHelp    Intent = "HELP"
	IntentInvalid Intent = "INVALID"
)

// RequiresPath reports whether the intent operates on a storage path.
func (i Intent) RequiresPath() bool {
	switch i {
	case IntentList, IntentDelete, IntentMove, IntentSummary:
		return true
	default:
		return false
	}
}

// Command is the parsed form of one inbound message. DestinationPath is only
// set for a successfully parsed Move.
type Command struct {
	Intent          Intent `json:"intent"`
	Path            string `json:"path,omitempty"`
	DestinationPath string `json:"destination_path,omitempty"`
	RawText         string `json:"raw_text"`
	ErrorDetail     string `json:"error_detail,omitempty"`
}

// InboundMessage is one delivery from the messaging transport.
type InboundMessage struct {
	MessageID   string
	SenderID    string
	Body        string
	ProfileName string
}
