package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/drive-in/drive-in-go/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent transfers",
		Long: `List finished uploads and downloads, newest first.

Transfers are recorded in a local database unless history.enabled is false.
Use --prune N to delete all but the newest N entries.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", 20, "maximum number of entries to show")
	cmd.Flags().Bool("failed", false, "show only failed transfers")
	cmd.Flags().String("direction", "", "show only uploads or downloads (upload, download)")
	cmd.Flags().Int("prune", -1, "keep only the newest N entries")

	return cmd
}

// historyJSONEntry is the JSON output schema for one history entry.
type historyJSONEntry struct {
	ID         string `json:"id"`
	Direction  string `json:"direction"`
	FileID     string `json:"file_id,omitempty"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Chunks     int    `json:"chunks"`
	Target     string `json:"target,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	limit, _ := cmd.Flags().GetInt("limit")
	failed, _ := cmd.Flags().GetBool("failed")
	direction, _ := cmd.Flags().GetString("direction")
	prune, _ := cmd.Flags().GetInt("prune")

	switch history.Direction(direction) {
	case "", history.Upload, history.Download:
	default:
		return fmt.Errorf("invalid --direction %q: must be upload or download", direction)
	}

	if !cc.Cfg.History.Enabled {
		cc.Statusf("History is disabled (history.enabled = false).\n")
		return nil
	}

	store, err := history.Open(ctx, cc.Cfg.HistoryPath, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cmd.Flags().Changed("prune") {
		removed, pruneErr := store.Prune(ctx, prune)
		if pruneErr != nil {
			return pruneErr
		}

		cc.Statusf("Removed %d history entries.\n", removed)

		return nil
	}

	entries, err := store.List(ctx, history.Filter{
		Limit:      limit,
		Direction:  history.Direction(direction),
		FailedOnly: failed,
	})
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := make([]historyJSONEntry, 0, len(entries))
		for i := range entries {
			out = append(out, historyToJSON(&entries[i]))
		}

		return printJSON(cc.Stdout, out)
	}

	if len(entries) == 0 {
		cc.Statusf("No transfers recorded.\n")
		return nil
	}

	rows := make([][]string, 0, len(entries))

	for i := range entries {
		e := &entries[i]

		status := "ok"
		if e.Failed() {
			status = "failed"
		}

		rows = append(rows, []string{
			formatTime(e.FinishedAt), string(e.Direction), e.Name, formatSize(e.Size),
			strconv.Itoa(e.Chunks), status, e.FileID,
		})
	}

	printTable(cc.Stdout, []string{"WHEN", "DIRECTION", "NAME", "SIZE", "CHUNKS", "STATUS", "FILE ID"}, rows)

	return nil
}

func historyToJSON(e *history.Entry) historyJSONEntry {
	return historyJSONEntry{
		ID:         e.ID,
		Direction:  string(e.Direction),
		FileID:     e.FileID,
		Name:       e.Name,
		Size:       e.Size,
		Chunks:     e.Chunks,
		Target:     e.Target,
		URL:        e.URL,
		Error:      e.Error,
		StartedAt:  e.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: e.FinishedAt.UTC().Format(time.RFC3339),
	}
}

// openHistory opens the transfer log for get and put. It returns nil when
// history is disabled or the database cannot be opened; a broken history
// never fails a transfer.
func openHistory(ctx context.Context, cc *CLIContext) *history.Store {
	if !cc.Cfg.History.Enabled {
		return nil
	}

	store, err := history.Open(ctx, cc.Cfg.HistoryPath, cc.Logger)
	if err != nil {
		cc.Logger.Warn("transfer history unavailable", "path", cc.Cfg.HistoryPath, "error", err)
		return nil
	}

	return store
}

// recordTransfer logs e to store. A nil store is a no-op.
func recordTransfer(ctx context.Context, cc *CLIContext, store *history.Store, e history.Entry) {
	if store == nil {
		return
	}

	// Record even when the transfer was cancelled.
	if _, err := store.Record(context.WithoutCancel(ctx), e); err != nil {
		cc.Logger.Warn("recording transfer history", "name", e.Name, "error", err)
	}
}

func closeHistory(cc *CLIContext, store *history.Store) {
	if store == nil {
		return
	}

	if err := store.Close(); err != nil {
		cc.Logger.Warn("closing transfer history", "error", err)
	}
}
