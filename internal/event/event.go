package event

type Type string

const (
	TypeAuditAppended    Type = "audit.appended"
	TypeDeleteRequested  Type = "file.delete_requested"
	TypeFileDeleted      Type = "file.deleted"
	TypeFileMoved        Type = "file.moved"
	TypeSummaryGenerated Type = "summary.generated"
	TypeStorageAuth      Type = "storage.authenticated"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"` // sender that triggered the event
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // channel plus unsubscribe
}
