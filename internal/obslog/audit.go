// Audit trail: one structured record per SecurityDescriptor-bearing
// operation, emitted as Mangle-queryable facts about directive
// evaluation, guard decisions, and pipeline transitions — each record
// carries the taint/labels/sources of the value it describes.
package obslog

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType enumerates the audit events the evaluator emits.
type EventType string

const (
	EventDirectiveEval   EventType = "directive_eval"
	EventCommandExec     EventType = "command_exec"
	EventFileRead        EventType = "file_read"
	EventFileWrite       EventType = "file_write"
	EventHTTPFetch       EventType = "http_fetch"
	EventMCPCall         EventType = "mcp_call"
	EventGuardAllow      EventType = "guard_allow"
	EventGuardDeny       EventType = "guard_deny"
	EventPipelineStage   EventType = "pipeline_stage"
	EventPipelineRetry   EventType = "pipeline_retry"
	EventImportResolved  EventType = "import_resolved"
)

// Record is one audit entry.
type Record struct {
	Time          time.Time `json:"time"`
	Event         EventType `json:"event"`
	DirectiveKind string    `json:"directive_kind,omitempty"`
	Labels        []string  `json:"labels,omitempty"`
	Taint         []string  `json:"taint,omitempty"`
	Sources       []string  `json:"sources,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
}

// Auditor accumulates Records in memory and can render them as
// newline-delimited JSON lines (MarshalNDJSON); it writes nothing itself.
type Auditor struct {
	mu      sync.Mutex
	records []Record
}

// NewAuditor creates an empty in-memory auditor.
func NewAuditor() *Auditor {
	return &Auditor{}
}

// Emit appends r with its timestamp filled in if zero.
func (a *Auditor) Emit(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
}

// Records returns a snapshot of everything emitted so far.
func (a *Auditor) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// MarshalNDJSON renders every record as newline-delimited JSON, one object
// per line, for export to an external audit sink.
func (a *Auditor) MarshalNDJSON() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var buf []byte
	for _, r := range a.records {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}
