package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskmaster/internal/observability"
)

var (
	eventsSince  string
	eventsType   string
	eventsLevel  string
	eventsTask   string
	eventsLimit  int
	eventsAsJSON bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the audit event log",
	Long: `Print recent entries from the JSONL event log: task changes, bus
emissions and every ticket sync outcome.

--type accepts an exact type (sync.failed) or a family ending in a dot
(sync.). The newest --limit entries are shown, oldest first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if EventLog == nil {
			return fmt.Errorf("event log not initialized (observability may be disabled)")
		}

		since, err := parseSinceDuration(eventsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
		filter := observability.EventFilter{Since: &since, Level: strings.ToUpper(eventsLevel)}
		if strings.HasSuffix(eventsType, ".") {
			filter.TypePrefix = eventsType
		} else {
			filter.Type = eventsType
		}

		all, err := EventLog.Read(filter)
		if err != nil {
			return fmt.Errorf("reading event log: %w", err)
		}
		selected := all[:0]
		for _, e := range all {
			if eventsTask == "" || e.TaskID() == eventsTask {
				selected = append(selected, e)
			}
		}
		if eventsLimit > 0 && len(selected) > eventsLimit {
			selected = selected[len(selected)-eventsLimit:]
		}

		out := cmd.OutOrStdout()
		if eventsAsJSON {
			data, err := json.MarshalIndent(selected, "", "  ")
			if err != nil {
				return fmt.Errorf("marshalling events: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		if len(selected) == 0 {
			fmt.Fprintln(out, "No events found.")
			return nil
		}
		fmt.Fprintf(out, "%-20s %-5s %-26s %-7s %s\n", "TIME", "LEVEL", "TYPE", "TASK", "MESSAGE")
		for _, e := range selected {
			task := e.TaskID()
			if task == "" {
				task = "-"
			}
			fmt.Fprintf(out, "%-20s %-5s %-26s %-7s %s\n",
				e.Time.UTC().Format("2006-01-02 15:04:05"), e.Level, e.Type, task, e.Message)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsSince, "since", "7d", "Time window (e.g. 24h, 7d)")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Event type, or a prefix ending in '.'")
	eventsCmd.Flags().StringVar(&eventsLevel, "level", "", "Only INFO, WARN or ERROR events")
	eventsCmd.Flags().StringVar(&eventsTask, "task", "", "Only events for this task or subtask id")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum number of events to show (0 for all)")
	eventsCmd.Flags().BoolVar(&eventsAsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(eventsCmd)
}
