package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var alertsNotify bool

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show active alerts and warnings",
	Long: `Evaluate alert conditions against the event log and display any triggered alerts.

Alerts check for blocked tasks, stale in-progress tasks, long-running reviews
and items whose ticket sync keeps failing. With --notify the alerts are also
posted to the configured Slack webhook.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized (observability may be disabled)")
		}

		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			return fmt.Errorf("evaluating alerts: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(alerts) == 0 {
			fmt.Fprintln(out, "No active alerts.")
		} else {
			fmt.Fprintf(out, "%d active alert(s):\n\n", len(alerts))
			for _, alert := range alerts {
				severity := strings.ToUpper(string(alert.Severity))
				fmt.Fprintf(out, "  [%s] %s\n", severity, alert.Message)
				fmt.Fprintf(out, "         triggered at %s\n\n", alert.TriggeredAt.Format("2006-01-02 15:04 UTC"))
			}
		}

		if !alertsNotify || len(alerts) == 0 {
			return nil
		}
		if Notifier == nil {
			return fmt.Errorf("no notifier configured (set alerts.slack_webhook_url)")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := Notifier.Notify(ctx, alerts); err != nil {
			return fmt.Errorf("sending alert notification: %w", err)
		}
		fmt.Fprintf(out, "Sent %d alert(s) to Slack.\n", len(alerts))
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsNotify, "notify", false, "Post alerts to the configured Slack webhook")
	rootCmd.AddCommand(alertsCmd)
}
