package document

// ProcessingStatus is the ingest pipeline state of a document.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusProcessed  ProcessingStatus = "processed"
	StatusFailed     ProcessingStatus = "failed"
)

// Document is the owning entity of a one-shot ingest trigger. Only the
// columns the relay needs to route and report outcomes are modeled here.
type Document struct {
	DocumentID       string
	UserID           string
	ProcessingStatus ProcessingStatus
}
