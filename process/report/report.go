// Package report summarises stored scan sessions and moves their tables in
// and out of Excel workbooks.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cardscan/models"
	"cardscan/pkg/sheet"
	"cardscan/pkg/store"
)

// SessionSummary is one line of the operator report.
type SessionSummary struct {
	ID          string
	CreatedAt   time.Time
	Records     int
	Scans       int
	FailedScans int
	Unnamed     int // rows with neither first nor last name
}

// Summarize lists the sessions of username, newest first, with their counts.
func Summarize(ctx context.Context, st store.Store, username string) ([]SessionSummary, error) {
	user, err := st.UserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", username, err)
	}
	sessions, err := st.ListSessions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		rows, err := st.ListRecords(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		scans, err := st.ListScans(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		sum := SessionSummary{ID: s.ID, CreatedAt: s.CreatedAt, Records: len(rows), Scans: len(scans)}
		for _, r := range rows {
			if r.FirstName == "" && r.LastName == "" {
				sum.Unnamed++
			}
		}
		for _, sc := range scans {
			if sc.Failed {
				sum.FailedScans++
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// PrintSummary writes the report for username to w. With list set the rows of
// every session follow its summary line.
func PrintSummary(ctx context.Context, w io.Writer, st store.Store, username string, list bool) error {
	sums, err := Summarize(ctx, st, username)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Report for user=%s sessions=%d:\n", username, len(sums))
	for _, s := range sums {
		fmt.Fprintf(w, "  %s created=%s records=%d unnamed=%d scans=%d failed=%d\n",
			s.ID, s.CreatedAt.UTC().Format(time.RFC3339), s.Records, s.Unnamed, s.Scans, s.FailedScans)
		if !list {
			continue
		}
		rows, err := st.ListRecords(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(w, "    %d|%s|%s\n", r.Position, r.FirstName, r.LastName)
		}
	}
	return nil
}

// LatestSession returns the newest session of username.
func LatestSession(ctx context.Context, st store.Store, username string) (*models.Session, error) {
	user, err := st.UserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", username, err)
	}
	sessions, err := st.ListSessions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("user %s has no sessions: %w", username, store.ErrNotFound)
	}
	return &sessions[0], nil
}

// ExportSession writes the session table to path and returns the row count.
// An empty table is not exported.
func ExportSession(ctx context.Context, st store.Store, sessionID, path string) (int, error) {
	rows, err := st.ListRecords(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("session %s has no records", sessionID)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := sheet.WriteRecords(f, rows); err != nil {
		f.Close()
		os.Remove(path)
		return 0, err
	}
	return len(rows), f.Close()
}

// ImportSheet loads an exported workbook into sessionID, replacing its table.
func ImportSheet(ctx context.Context, st store.Store, sessionID, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	rows, err := sheet.ReadRecords(f)
	if err != nil {
		return 0, err
	}
	out, err := st.ReplaceRecords(ctx, sessionID, rows)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}
