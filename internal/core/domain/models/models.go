package models

import "time"

// SourceRecord is the `book` object of one shelf entry, kept as decoded JSON.
// Numbers are decoded as json.Number so large timestamps survive intact.
type SourceRecord map[string]any

// DestinationRecord maps a table column name to its value.
type DestinationRecord map[string]any

type Token struct {
	Value     string
	ExpiresIn time.Duration
}

// WriteResult summarizes one WriteAll call.
type WriteResult struct {
	Total         int
	Succeeded     int
	Batches       int
	FailedBatches int
}

type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusDryRun    RunStatus = "dry_run"
)

type RunSummary struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Fetched       int       `json:"fetched"`
	Total         int       `json:"total"`
	Succeeded     int       `json:"succeeded"`
	FailedBatches int       `json:"failed_batches"`
	Status        RunStatus `json:"status"`
	Error         string    `json:"error,omitempty"`
}
