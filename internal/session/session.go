// Package session defines the persisted unit of a research run: its
// status lifecycle, the aggregated research data accumulated across
// iterations, and the canonical serialization used for integrity hashing.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Status enumerates the lifecycle of a research session.
type Status string

const (
	StatusInit        Status = "init"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusError       Status = "error"
)

// DecodeStatus maps a stored string onto the enum. Unknown values decode
// to StatusError with a warning so a corrupt row is surfaced rather than
// dropped.
func DecodeStatus(s string) Status {
	switch Status(s) {
	case StatusInit, StatusRunning, StatusCompleted, StatusInterrupted, StatusError:
		return Status(s)
	}
	log.Warn().Str("status", s).Msg("unknown session status, defaulting to error")
	return StatusError
}

// Terminal reports whether the status permits an end_time.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusInterrupted
}

// Settings is the snapshot of the request that started the run.
type Settings struct {
	MaxIterations  int    `json:"max_iterations" bson:"max_iterations"`
	MaxSearchItems int    `json:"max_search_items" bson:"max_search_items"`
	DefaultModel   string `json:"default_model,omitempty" bson:"default_model,omitempty"`
	ReasonModel    string `json:"reason_model,omitempty" bson:"reason_model,omitempty"`
	InitialPlan    string `json:"initial_plan,omitempty" bson:"initial_plan,omitempty"`
	Stream         bool   `json:"stream" bson:"stream"`
}

// AggregatedData is the research state that accumulates across
// iterations. AggregatedContexts holds tagged strings produced by
// FormatContext; it never shrinks during a run.
type AggregatedData struct {
	AllSearchQueries     []string       `json:"all_search_queries" bson:"all_search_queries"`
	AggregatedContexts   []string       `json:"aggregated_contexts" bson:"aggregated_contexts"`
	LastPlan             string         `json:"last_plan,omitempty" bson:"last_plan,omitempty"`
	CurrentIterationData map[string]any `json:"current_iteration_data,omitempty" bson:"current_iteration_data,omitempty"`
	FinalReportContent   string         `json:"final_report_content,omitempty" bson:"final_report_content,omitempty"`
}

// Clone deep-copies the aggregated data so snapshots do not alias the
// live run state.
func (a AggregatedData) Clone() AggregatedData {
	out := AggregatedData{
		LastPlan:           a.LastPlan,
		FinalReportContent: a.FinalReportContent,
	}
	out.AllSearchQueries = append([]string(nil), a.AllSearchQueries...)
	out.AggregatedContexts = append([]string(nil), a.AggregatedContexts...)
	if a.CurrentIterationData != nil {
		out.CurrentIterationData = make(map[string]any, len(a.CurrentIterationData))
		for k, v := range a.CurrentIterationData {
			out.CurrentIterationData[k] = v
		}
	}
	return out
}

// FormatContext serializes one (source URL, extracted text) pair into
// the tagged wire form carried inside AggregatedContexts.
func FormatContext(sourceURL, text string) string {
	return fmt.Sprintf("url:%s\ncontext:%s", sourceURL, text)
}

// ParseContext splits a tagged context record back into its URL and
// text. Records that do not carry the tags come back with an empty URL
// and the whole record as text.
func ParseContext(record string) (sourceURL, text string) {
	rest, ok := strings.CutPrefix(record, "url:")
	if !ok {
		return "", record
	}
	u, t, ok := strings.Cut(rest, "\ncontext:")
	if !ok {
		return "", record
	}
	return u, t
}

// SourceURLs returns the ordered distinct source URLs referenced by the
// aggregated contexts, for bibliography construction.
func (a AggregatedData) SourceURLs() []string {
	seen := make(map[string]bool, len(a.AggregatedContexts))
	var out []string
	for _, rec := range a.AggregatedContexts {
		u, _ := ParseContext(rec)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Session is the unit of persistence. CurrentIteration is -1 before the
// first completed step; -1 in a history entry marks an error snapshot.
type Session struct {
	SessionID         string         `json:"session_id,omitempty" bson:"session_id,omitempty"`
	UserID            string         `json:"user_id,omitempty" bson:"user_id,omitempty"`
	UserQuery         string         `json:"user_query" bson:"user_query"`
	SystemInstruction string         `json:"system_instruction,omitempty" bson:"system_instruction,omitempty"`
	Settings          Settings       `json:"settings" bson:"settings"`
	Status            Status         `json:"status" bson:"status"`
	CreatedAt         time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" bson:"updated_at"`
	EndTime           *time.Time     `json:"end_time,omitempty" bson:"end_time,omitempty"`
	CurrentIteration  int            `json:"current_iteration" bson:"current_iteration"`
	AggregatedData    AggregatedData `json:"aggregated_data" bson:"aggregated_data"`
	LastError         string         `json:"last_error,omitempty" bson:"last_error,omitempty"`
	Version           int            `json:"version" bson:"version"`
}

// New seeds a fresh session in the init state.
func New(userQuery, systemInstruction string, settings Settings, now time.Time) *Session {
	return &Session{
		UserQuery:         userQuery,
		SystemInstruction: systemInstruction,
		Settings:          settings,
		Status:            StatusInit,
		CreatedAt:         now,
		UpdatedAt:         now,
		CurrentIteration:  -1,
		AggregatedData: AggregatedData{
			AllSearchQueries:   []string{},
			AggregatedContexts: []string{},
		},
		Version: 1,
	}
}

// HistoryEntry captures the session data at the end of one observable
// step.
type HistoryEntry struct {
	Iteration int            `json:"iteration" bson:"iteration"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Data      AggregatedData `json:"data" bson:"data"`
}

// Summary is the projection served by session listings.
type Summary struct {
	SessionID string     `json:"session_id"`
	UserQuery string     `json:"user_query"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}
