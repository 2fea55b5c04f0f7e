package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskmaster/internal/ticketsync"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

var ticketingCmd = &cobra.Command{
	Use:   "ticketing",
	Short: "Inspect and configure the ticketing integration",
}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(20)
)

var ticketingStatusJSON bool

var ticketingStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether ticketing is enabled and configured",
	Long: `Report the ticketing system in use, whether its credentials are set,
whether the event handlers are registered and how many subscribers each
event type has. No network calls are made.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Syncer == nil {
			return fmt.Errorf("ticket sync not initialized")
		}
		report := Syncer.CheckStatus(context.Background())

		out := cmd.OutOrStdout()
		if ticketingStatusJSON {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting status as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		fmt.Fprintln(out, renderStatusReport(report))
		return nil
	},
}

func renderStatusReport(r ticketsync.StatusReport) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Enabled", yesNo(r.TicketingEnabled))
	row("System", string(r.System))
	row("Configured", yesNo(r.Configured))
	row("Handlers", yesNo(r.Initialized))
	row("Project root", r.ProjectRoot)

	if len(r.EventSubscribers) > 0 {
		b.WriteString("\nSubscribers:\n")
		types := make([]string, 0, len(r.EventSubscribers))
		for t := range r.EventSubscribers {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(&b, "  %-26s %d\n", t, r.EventSubscribers[t])
		}
	}

	if r.Error != "" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("! " + r.Error))
	}
	return strings.TrimRight(b.String(), "\n")
}

func yesNo(v bool) string {
	if v {
		return okStyle.Render("yes")
	}
	return errStyle.Render("no")
}

// ticketingConfigureFlags holds the flags for ticketing configure. Only the
// flags that are set change the stored configuration.
var ticketingConfigureFlags struct {
	system  string
	enable  bool
	disable bool
	timeout time.Duration

	jiraBaseURL          string
	jiraEmail            string
	jiraAPIToken         string
	jiraProjectKey       string
	jiraStoryIssueType   string
	jiraSubtaskIssueType string

	azureOrganization string
	azureProject      string
	azurePAT          string

	githubOwner         string
	githubRepo          string
	githubToken         string
	githubProjectNumber int
}

var ticketingConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write ticketing settings to .taskconfig",
	Long: `Update the ticketing section of .taskconfig. Other sections of the file
are preserved. Only the flags that are given change.

Example:
  taskmaster ticketing configure --system jira --enable \
    --jira-base-url https://acme.atlassian.net --jira-email me@acme.io \
    --jira-api-token $TOKEN --jira-project-key PROJ`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ConfigMgr == nil {
			return fmt.Errorf("configuration manager not initialized")
		}
		f := &ticketingConfigureFlags
		if f.enable && f.disable {
			return fmt.Errorf("--enable and --disable are mutually exclusive")
		}

		cfg, err := ConfigMgr.LoadGlobalConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		tc := &cfg.Ticketing
		changed := cmd.Flags().Changed

		if changed("system") {
			tc.System = models.TicketingSystem(strings.ToLower(f.system))
		}
		if f.enable {
			tc.Enabled = true
		}
		if f.disable {
			tc.Enabled = false
		}
		if changed("timeout") {
			tc.Timeout = f.timeout
		}

		setString := func(flag string, dst *string, v string) {
			if changed(flag) {
				*dst = v
			}
		}
		setString("jira-base-url", &tc.Jira.BaseURL, f.jiraBaseURL)
		setString("jira-email", &tc.Jira.Email, f.jiraEmail)
		setString("jira-api-token", &tc.Jira.APIToken, f.jiraAPIToken)
		setString("jira-project-key", &tc.Jira.ProjectKey, f.jiraProjectKey)
		setString("jira-story-issue-type", &tc.Jira.StoryIssueType, f.jiraStoryIssueType)
		setString("jira-subtask-issue-type", &tc.Jira.SubtaskIssueType, f.jiraSubtaskIssueType)
		setString("azure-organization", &tc.Azure.Organization, f.azureOrganization)
		setString("azure-project", &tc.Azure.Project, f.azureProject)
		setString("azure-pat", &tc.Azure.PAT, f.azurePAT)
		setString("github-owner", &tc.GitHub.Owner, f.githubOwner)
		setString("github-repo", &tc.GitHub.Repo, f.githubRepo)
		setString("github-token", &tc.GitHub.Token, f.githubToken)
		if changed("github-project-number") {
			tc.GitHub.ProjectNumber = f.githubProjectNumber
		}

		if err := ConfigMgr.ValidateConfig(cfg); err != nil {
			return err
		}
		if err := ConfigMgr.SaveTicketingConfig(*tc); err != nil {
			return fmt.Errorf("saving ticketing configuration: %w", err)
		}

		state := "disabled"
		if tc.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ticketing %s (system: %s)\n", state, tc.System)
		return nil
	},
}

func init() {
	ticketingStatusCmd.Flags().BoolVar(&ticketingStatusJSON, "json", false, "Output the report as JSON")

	f := &ticketingConfigureFlags
	fl := ticketingConfigureCmd.Flags()
	fl.StringVar(&f.system, "system", "", "Ticketing system (jira, azure, github, none)")
	fl.BoolVar(&f.enable, "enable", false, "Enable ticketing")
	fl.BoolVar(&f.disable, "disable", false, "Disable ticketing")
	fl.DurationVar(&f.timeout, "timeout", 0, "Timeout for provider calls (e.g. 2m)")
	fl.StringVar(&f.jiraBaseURL, "jira-base-url", "", "Jira Cloud base URL")
	fl.StringVar(&f.jiraEmail, "jira-email", "", "Jira account email")
	fl.StringVar(&f.jiraAPIToken, "jira-api-token", "", "Jira API token")
	fl.StringVar(&f.jiraProjectKey, "jira-project-key", "", "Jira project key")
	fl.StringVar(&f.jiraStoryIssueType, "jira-story-issue-type", "", "Issue type for tasks")
	fl.StringVar(&f.jiraSubtaskIssueType, "jira-subtask-issue-type", "", "Issue type for subtasks")
	fl.StringVar(&f.azureOrganization, "azure-organization", "", "Azure DevOps organization")
	fl.StringVar(&f.azureProject, "azure-project", "", "Azure DevOps project")
	fl.StringVar(&f.azurePAT, "azure-pat", "", "Azure DevOps personal access token")
	fl.StringVar(&f.githubOwner, "github-owner", "", "GitHub repository owner")
	fl.StringVar(&f.githubRepo, "github-repo", "", "GitHub repository name")
	fl.StringVar(&f.githubToken, "github-token", "", "GitHub token")
	fl.IntVar(&f.githubProjectNumber, "github-project-number", 0, "GitHub Projects board number")

	ticketingCmd.AddCommand(ticketingStatusCmd, ticketingConfigureCmd)
	rootCmd.AddCommand(ticketingCmd)
}
