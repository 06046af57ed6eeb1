package pipeline

// Product is a recognized product with a normalized display name.
type Product struct {
	Name string `json:"name"`
}

// ProductList is a deduplicated list of products sorted by name.
type ProductList []Product

// Names returns the product names in list order.
func (l ProductList) Names() []string {
	names := make([]string, len(l))
	for i, p := range l {
		names[i] = p.Name
	}
	return names
}

// ResultsDocument is the persisted results artifact.
type ResultsDocument struct {
	Products ProductList `json:"products"`
}

// DetectResponse is returned by POST /api/detect
type DetectResponse struct {
	ProcessedImage   string      `json:"processed_image"`
	DetectedProducts ProductList `json:"detected_products"`
}

// TriggerResponse is returned by POST /trigger_workflow
type TriggerResponse struct {
	Message         string `json:"message"`
	ExecutionID     string `json:"execution_id"`
	Status          string `json:"status"`
	WorkflowURL     string `json:"workflow_url"`
	DedupeSeenCount int    `json:"dedupe_seen_count,omitempty"`
}

// ErrorResponse is the body of every 4xx/5xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// Workflow execution states reported by the engines we know about.
// Engines may report others; those are passed through untouched.
const (
	StatePending = "PENDING"
	StateRunning = "RUNNING"
	StateSuccess = "SUCCESS"
	StateFailed  = "FAILED"
)

var terminalStates = map[string]bool{
	StateSuccess:                     true,
	StateFailed:                      true,
	"WARNING":                        true,
	"KILLED":                         true,
	"CANCELLED":                      true,
	"ERROR":                          true,
	"MAX_RECOVERY_ATTEMPTS_EXCEEDED": true,
}

// IsTerminal reports whether an execution in state will not change again
func IsTerminal(state string) bool {
	return terminalStates[state]
}

// WorkflowStatus is an engine status object as returned by
// GET /workflow_status/{execution_id}
type WorkflowStatus map[string]any

// State extracts the execution state. Both "state": "SUCCESS" and
// "state": {"current": "SUCCESS"} are understood.
func (s WorkflowStatus) State() string {
	switch v := s["state"].(type) {
	case string:
		return v
	case map[string]any:
		if cur, ok := v["current"].(string); ok {
			return cur
		}
	}
	return ""
}

// Result keys merged into workflow status payloads
const (
	StatusKeyResults = "results"
	OutputKeyResults = "recognition_result"
)
