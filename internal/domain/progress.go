package domain

// Progress entry types written to a trace file.
const (
	ProgressTypeProgress = "progress"
	ProgressTypeLogs     = "logs"
	ProgressTypeComplete = "complete"
	ProgressTypeError    = "error"
)

// ProgressEntry is one JSON line in a trace's append-only progress file.
type ProgressEntry struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
