package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display task and ticket sync metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include task creation/completion counts, status transitions, tickets
created and updated, statuses pushed and pulled, and sync failures by item.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		// Table format.
		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Tasks created:", metrics.TasksCreated)
		fmt.Fprintf(out, "  %-24s %d\n", "Tasks completed:", metrics.TasksCompleted)
		fmt.Fprintf(out, "  %-24s %d\n", "Tasks deleted:", metrics.TasksDeleted)

		fmt.Fprintln(out, "\n  Ticket sync:")
		fmt.Fprintf(out, "    %-22s %d\n", "Tickets created:", metrics.TicketsCreated)
		fmt.Fprintf(out, "    %-22s %d\n", "Tickets updated:", metrics.TicketsUpdated)
		fmt.Fprintf(out, "    %-22s %d\n", "Tickets deleted:", metrics.TicketsDeleted)
		fmt.Fprintf(out, "    %-22s %d\n", "Statuses pushed:", metrics.StatusesPushed)
		fmt.Fprintf(out, "    %-22s %d\n", "Statuses pulled:", metrics.StatusesPulled)
		fmt.Fprintf(out, "    %-22s %d\n", "Skipped:", metrics.SyncSkipped)
		fmt.Fprintf(out, "    %-22s %d\n", "Failures:", metrics.SyncFailures)
		fmt.Fprintf(out, "    %-22s %.0f%%\n", "Success rate:", metrics.SyncSuccessRate()*100)
		fmt.Fprintf(out, "    %-22s %d\n", "Batch runs:", metrics.SyncRuns)
		if metrics.LastSync != nil {
			fmt.Fprintf(out, "    %-22s %s\n", "Last batch run:", metrics.LastSync.Format(time.RFC3339))
		}

		if len(metrics.StatusChanges) > 0 {
			fmt.Fprintln(out, "\n  Status transitions:")
			for _, status := range sortedKeys(metrics.StatusChanges) {
				fmt.Fprintf(out, "    %-20s %d\n", status+":", metrics.StatusChanges[status])
			}
		}

		if len(metrics.FailuresByItem) > 0 {
			fmt.Fprintln(out, "\n  Failures by item:")
			for _, id := range sortedKeys(metrics.FailuresByItem) {
				fmt.Fprintf(out, "    %-20s %d\n", id+":", metrics.FailuresByItem[id])
			}
		}

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
