package models

import "time"

// TicketingSystem names a ticketing provider.
type TicketingSystem string

const (
	TicketingNone   TicketingSystem = "none"
	TicketingJira   TicketingSystem = "jira"
	TicketingAzure  TicketingSystem = "azure"
	TicketingGitHub TicketingSystem = "github"
)

// JiraConfig holds Jira Cloud connection settings.
type JiraConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Email            string `yaml:"email" mapstructure:"email"`
	APIToken         string `yaml:"api_token" mapstructure:"api_token"`
	ProjectKey       string `yaml:"project_key" mapstructure:"project_key"`
	StoryIssueType   string `yaml:"story_issue_type,omitempty" mapstructure:"story_issue_type"`
	SubtaskIssueType string `yaml:"subtask_issue_type,omitempty" mapstructure:"subtask_issue_type"`
}

// AzureConfig holds Azure DevOps connection settings.
type AzureConfig struct {
	Organization string `yaml:"organization" mapstructure:"organization"`
	Project      string `yaml:"project" mapstructure:"project"`
	PAT          string `yaml:"pat" mapstructure:"pat"`
}

// GitHubConfig holds GitHub Projects connection settings.
type GitHubConfig struct {
	Owner         string `yaml:"owner" mapstructure:"owner"`
	Repo          string `yaml:"repo" mapstructure:"repo"`
	Token         string `yaml:"token" mapstructure:"token"`
	ProjectNumber int    `yaml:"project_number,omitempty" mapstructure:"project_number"`
}

// TicketingConfig is the ticketing section of .taskconfig.
type TicketingConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	System  TicketingSystem `yaml:"system" mapstructure:"system"`
	Timeout time.Duration   `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Jira    JiraConfig      `yaml:"jira,omitempty" mapstructure:"jira"`
	Azure   AzureConfig     `yaml:"azure,omitempty" mapstructure:"azure"`
	GitHub  GitHubConfig    `yaml:"github,omitempty" mapstructure:"github"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AlertsConfig holds alert thresholds and the optional Slack webhook that
// receives alert summaries.
type AlertsConfig struct {
	BlockedHours    int    `yaml:"blocked_threshold_hours" mapstructure:"blocked_threshold_hours"`
	StaleDays       int    `yaml:"stale_threshold_days" mapstructure:"stale_threshold_days"`
	ReviewDays      int    `yaml:"review_threshold_days" mapstructure:"review_threshold_days"`
	MaxSyncFailures int    `yaml:"max_sync_failures" mapstructure:"max_sync_failures"`
	SlackWebhookURL string `yaml:"slack_webhook_url,omitempty" mapstructure:"slack_webhook_url"`
}

// GlobalConfig holds project-wide settings read from .taskconfig via Viper.
type GlobalConfig struct {
	TasksFile string          `yaml:"tasks_file" mapstructure:"tasks_file"`
	EventLog  string          `yaml:"event_log" mapstructure:"event_log"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Ticketing TicketingConfig `yaml:"ticketing" mapstructure:"ticketing"`
	Alerts    AlertsConfig    `yaml:"alerts" mapstructure:"alerts"`
}
