package streams

// Stream name constants
const (
	StreamVideoRequests = "video:requests"
	StreamVideoResults  = "video:results"
)

// Consumer group constants
const (
	GroupRendererWorkers = "renderer-workers" // external renderer side
	GroupGoWorkers       = "go-workers"       // Go side
)

// Schema version constant
const (
	SchemaVersionV1 = "v1"
)

// Result status values
const (
	ResultStatusCompleted = "completed"
	ResultStatusFailed    = "failed"
)

// VideoRequest asks the external renderer for one video.
type VideoRequest struct {
	RunID          string                 `json:"run_id"`
	Template       string                 `json:"template"`
	PatientEmail   string                 `json:"patient_email"`
	PatientName    string                 `json:"patient_name"`
	Prompt         string                 `json:"prompt"`
	Parameters     map[string]interface{} `json:"parameters"`
	PlaceholderURL string                 `json:"placeholder_url"`
}

// VideoResult is the renderer's answer for a run.
type VideoResult struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"` // completed/failed
	VideoURL string `json:"video_url"`
	Error    string `json:"error"` // error message if failed
}
