// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/censusrunner/config"
	"github.com/cardinalhq/censusrunner/internal/censusdb"
	"github.com/cardinalhq/censusrunner/internal/dbopen"
)

func init() {
	var (
		pipelineName string
		limit        int
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect ingestion run history",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent ingestion runs, newest first",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if pipelineName == "" {
				pipelineName = cfg.Checkpoint.Pipeline
			}

			db, err := censusdb.CensusDBStore(ctx, dbopen.WarnOnMigrationMismatch())
			if err != nil {
				return fmt.Errorf("failed to open census database: %w", err)
			}
			defer db.Close()

			runs, err := db.ListIngestRuns(ctx, pipelineName, int32(limit))
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if jsonOutput {
				return printRunsJSON(c.OutOrStdout(), runs, time.Now())
			}
			return printRunsTable(c.OutOrStdout(), runs, time.Now())
		},
	}
	list.Flags().StringVar(&pipelineName, "pipeline", "", "Pipeline name (default from config)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	list.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	cmd.AddCommand(list)
	rootCmd.AddCommand(cmd)
}

// A running run whose heartbeat is older than this was most likely killed.
const staleRunAfter = 10 * runHeartbeatInterval

// displayState reports "stale" for running rows nobody is heartbeating.
func displayState(r censusdb.IngestRun, now time.Time) string {
	if r.State != "running" {
		return r.State
	}
	last := r.StartedAt
	if r.HeartbeatAt.Valid {
		last = r.HeartbeatAt.Time
	}
	if now.Sub(last) > staleRunAfter {
		return "stale"
	}
	return r.State
}

type runView struct {
	ID           string          `json:"id"`
	Mode         string          `json:"mode"`
	Filter       string          `json:"filter,omitempty"`
	State        string          `json:"state"`
	InstanceID   int64           `json:"instance_id"`
	ResumedFrom  *int64          `json:"resumed_from,omitempty"`
	Fetched      int64           `json:"fetched"`
	Inserted     int64           `json:"inserted"`
	Updated      int64           `json:"updated"`
	Errored      int64           `json:"errored"`
	SuccessRate  float64         `json:"success_rate"`
	ErrorSummary json.RawMessage `json:"error_summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	HeartbeatAt  *time.Time      `json:"heartbeat_at,omitempty"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
}

func newRunView(r censusdb.IngestRun, now time.Time) runView {
	v := runView{
		ID:           r.ID.String(),
		Mode:         r.Mode,
		Filter:       r.Filter,
		State:        displayState(r, now),
		InstanceID:   r.InstanceID,
		Fetched:      r.Fetched,
		Inserted:     r.Inserted,
		Updated:      r.Updated,
		Errored:      r.Errored,
		SuccessRate:  r.SuccessRate,
		ErrorMessage: r.ErrorMessage.String,
		StartedAt:    r.StartedAt,
	}
	if r.ResumedFrom.Valid {
		v.ResumedFrom = &r.ResumedFrom.Int64
	}
	if len(r.ErrorSummary) > 0 && json.Valid(r.ErrorSummary) {
		v.ErrorSummary = r.ErrorSummary
	}
	if r.HeartbeatAt.Valid {
		v.HeartbeatAt = &r.HeartbeatAt.Time
	}
	if r.EndedAt.Valid {
		v.EndedAt = &r.EndedAt.Time
	}
	return v
}

func printRunsJSON(w io.Writer, runs []censusdb.IngestRun, now time.Time) error {
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, newRunView(r, now))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func printRunsTable(w io.Writer, runs []censusdb.IngestRun, now time.Time) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "RUN\tMODE\tSTATE\tSTARTED\tDURATION\tFETCHED\tINSERTED\tUPDATED\tERRORED\tSUCCESS"); err != nil {
		return err
	}
	for _, r := range runs {
		duration := "-"
		if r.EndedAt.Valid {
			duration = r.EndedAt.Time.Sub(r.StartedAt).Round(time.Second).String()
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.1f%%\n",
			r.ID, r.Mode, displayState(r, now), r.StartedAt.UTC().Format(time.RFC3339), duration,
			r.Fetched, r.Inserted, r.Updated, r.Errored, r.SuccessRate); err != nil {
			return err
		}
	}
	return tw.Flush()
}
