package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gsexport/services/export/db"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Failure is one recorded per-item failure, in the order it was observed.
type Failure struct {
	Context string
	Reason  string
}

// Skip is an item that produced no archive entry without being an error:
// assignments with no default submission and speculative urls that 404ed.
type Skip struct {
	Context string
}

// Report accumulates the outcome of one export run. Appends are safe under
// concurrent workers.
type Report struct {
	RunID     string
	StartedAt time.Time

	mu         sync.Mutex
	finishedAt time.Time
	successes  int
	failures   []Failure
	skips      []Skip
	cancelled  bool
}

func NewReport() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
}

func (r *Report) Success() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes++
}

func (r *Report) Failure(context string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{
		Context: context,
		Reason:  err.Error(),
	})
}

func (r *Report) Skip(context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips = append(r.skips, Skip{Context: context})
}

func (r *Report) finish(cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = time.Now()
	r.cancelled = cancelled
}

func (r *Report) Successes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successes
}

func (r *Report) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}

func (r *Report) Skips() []Skip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Skip(nil), r.skips...)
}

func (r *Report) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Summary renders the run outcome as a human-readable table.
func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendRow(table.Row{"run", r.RunID})
	t.AppendRow(table.Row{"files exported", r.successes})
	t.AppendRow(table.Row{"skipped", len(r.skips)})
	t.AppendRow(table.Row{"failed", len(r.failures)})
	if r.cancelled {
		t.AppendRow(table.Row{"cancelled", "yes"})
	}
	out := t.Render()

	if len(r.failures) > 0 {
		ft := table.NewWriter()
		ft.SetStyle(table.StyleLight)
		ft.AppendHeader(table.Row{"#", "item", "reason"})
		for i, f := range r.failures {
			ft.AppendRow(table.Row{i + 1, f.Context, f.Reason})
		}
		out += "\n" + ft.Render()
	}
	return out
}

// Save persists the run outcome and its failures for later inspection.
func (r *Report) Save(ctx context.Context, qry *db.Queries, topLevelErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	topLevel := ""
	if topLevelErr != nil {
		topLevel = topLevelErr.Error()
	}
	err := qry.RecordRun(ctx, db.RecordRunParams{
		ID:            r.RunID,
		StartedAt:     r.StartedAt.Unix(),
		FinishedAt:    r.finishedAt.Unix(),
		Successes:     int64(r.successes),
		Skips:         int64(len(r.skips)),
		Failures:      int64(len(r.failures)),
		Cancelled:     r.cancelled,
		TopLevelError: topLevel,
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	for i, f := range r.failures {
		err := qry.RecordFailure(ctx, db.RecordFailureParams{
			RunID:   r.RunID,
			Idx:     int64(i),
			Context: f.Context,
			Reason:  f.Reason,
		})
		if err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
	}
	return nil
}
