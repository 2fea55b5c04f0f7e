// Package core contains the business logic for taskmaster: configuration and
// the task manager that mutates tasks.json and emits lifecycle events.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// ConfigFileName is the project configuration file looked up in the project root.
const ConfigFileName = ".taskconfig"

// EnvPrefix prefixes environment overrides, e.g. TASKMASTER_TICKETING_JIRA_API_TOKEN.
const EnvPrefix = "TASKMASTER"

// DefaultTasksFile is the tasks.json location relative to the project root.
var DefaultTasksFile = filepath.Join("tasks", "tasks.json")

// DefaultEventLog is the JSONL audit log location relative to the project root.
var DefaultEventLog = filepath.Join(".taskmaster", "events.jsonl")

// ConfigurationManager defines the interface for loading, validating and
// updating the project configuration in .taskconfig.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error

	// TicketingConfig returns the ticketing section with environment
	// overrides applied.
	TicketingConfig() (models.TicketingConfig, error)
	TicketingEnabled() bool
	TicketingSystem() models.TicketingSystem
	SaveTicketingConfig(cfg models.TicketingConfig) error

	ProjectRoot() string
	TasksFilePath() string
	EventLogPath() string
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// .taskconfig relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// defaultGlobalConfig returns a GlobalConfig populated with sensible defaults.
func defaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		TasksFile: DefaultTasksFile,
		EventLog:  DefaultEventLog,
		Log: models.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Ticketing: models.TicketingConfig{
			Enabled: false,
			System:  models.TicketingNone,
			Timeout: 2 * time.Minute,
			Jira: models.JiraConfig{
				StoryIssueType:   "Story",
				SubtaskIssueType: "Subtask",
			},
		},
		Alerts: models.AlertsConfig{
			BlockedHours:    24,
			StaleDays:       3,
			ReviewDays:      5,
			MaxSyncFailures: 3,
		},
	}
}

func (cm *viperConfigManager) newViper() *viper.Viper {
	cfg := defaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can override it and
	// Unmarshal sees it.
	v.SetDefault("tasks_file", cfg.TasksFile)
	v.SetDefault("event_log", cfg.EventLog)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("ticketing.enabled", cfg.Ticketing.Enabled)
	v.SetDefault("ticketing.system", string(cfg.Ticketing.System))
	v.SetDefault("ticketing.timeout", cfg.Ticketing.Timeout)
	v.SetDefault("ticketing.jira.base_url", "")
	v.SetDefault("ticketing.jira.email", "")
	v.SetDefault("ticketing.jira.api_token", "")
	v.SetDefault("ticketing.jira.project_key", "")
	v.SetDefault("ticketing.jira.story_issue_type", cfg.Ticketing.Jira.StoryIssueType)
	v.SetDefault("ticketing.jira.subtask_issue_type", cfg.Ticketing.Jira.SubtaskIssueType)
	v.SetDefault("ticketing.azure.organization", "")
	v.SetDefault("ticketing.azure.project", "")
	v.SetDefault("ticketing.azure.pat", "")
	v.SetDefault("ticketing.github.owner", "")
	v.SetDefault("ticketing.github.repo", "")
	v.SetDefault("ticketing.github.token", "")
	v.SetDefault("ticketing.github.project_number", 0)
	v.SetDefault("alerts.blocked_threshold_hours", cfg.Alerts.BlockedHours)
	v.SetDefault("alerts.stale_threshold_days", cfg.Alerts.StaleDays)
	v.SetDefault("alerts.review_threshold_days", cfg.Alerts.ReviewDays)
	v.SetDefault("alerts.max_sync_failures", cfg.Alerts.MaxSyncFailures)
	v.SetDefault("alerts.slack_webhook_url", "")
	return v
}

// LoadGlobalConfig reads .taskconfig from the base path using Viper.
// If the file does not exist, defaults (plus environment overrides) are
// returned.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	v := cm.newViper()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg := &models.GlobalConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ConfigFileName, err)
	}

	if cfg.TasksFile == "" {
		cfg.TasksFile = DefaultTasksFile
	}
	if cfg.EventLog == "" {
		cfg.EventLog = DefaultEventLog
	}
	cfg.Ticketing.System = models.TicketingSystem(strings.ToLower(strings.TrimSpace(string(cfg.Ticketing.System))))
	if cfg.Ticketing.System == "" {
		cfg.Ticketing.System = models.TicketingNone
	}
	// Use IsSet to distinguish "not set" (default) from "explicitly zero".
	if !v.IsSet("ticketing.timeout") || cfg.Ticketing.Timeout <= 0 {
		cfg.Ticketing.Timeout = defaultGlobalConfig().Ticketing.Timeout
	}
	return cfg, nil
}

func (cm *viperConfigManager) TicketingConfig() (models.TicketingConfig, error) {
	cfg, err := cm.LoadGlobalConfig()
	if err != nil {
		return models.TicketingConfig{}, err
	}
	return cfg.Ticketing, nil
}

func (cm *viperConfigManager) TicketingEnabled() bool {
	cfg, err := cm.TicketingConfig()
	return err == nil && cfg.Enabled
}

func (cm *viperConfigManager) TicketingSystem() models.TicketingSystem {
	cfg, err := cm.TicketingConfig()
	if err != nil {
		return models.TicketingNone
	}
	return cfg.System
}

func (cm *viperConfigManager) ProjectRoot() string {
	return cm.basePath
}

// TasksFilePath resolves tasks_file against the project root.
func (cm *viperConfigManager) TasksFilePath() string {
	tasksFile := DefaultTasksFile
	if cfg, err := cm.LoadGlobalConfig(); err == nil {
		tasksFile = cfg.TasksFile
	}
	return cm.resolve(tasksFile)
}

// EventLogPath resolves event_log against the project root.
func (cm *viperConfigManager) EventLogPath() string {
	eventLog := DefaultEventLog
	if cfg, err := cm.LoadGlobalConfig(); err == nil {
		eventLog = cfg.EventLog
	}
	return cm.resolve(eventLog)
}

func (cm *viperConfigManager) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cm.basePath, p)
}

// configFilePath returns the existing config file, or the default location
// for a new one.
func (cm *viperConfigManager) configFilePath() string {
	for _, name := range []string{ConfigFileName, ConfigFileName + ".yaml", ConfigFileName + ".yml"} {
		p := filepath.Join(cm.basePath, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(cm.basePath, ConfigFileName)
}

// SaveTicketingConfig replaces the ticketing section of .taskconfig and
// keeps every other section as it was.
func (cm *viperConfigManager) SaveTicketingConfig(tc models.TicketingConfig) error {
	path := cm.configFilePath()

	doc := map[string]any{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("reading %s: %w", path, err)
	}

	section, err := ticketingSection(tc)
	if err != nil {
		return err
	}
	doc["ticketing"] = section

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// Credentials live in this file.
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ticketingSection renders tc as a YAML-ready map with the timeout as a
// duration string.
func ticketingSection(tc models.TicketingConfig) (map[string]any, error) {
	raw, err := yaml.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("marshalling ticketing config: %w", err)
	}
	section := map[string]any{}
	if err := yaml.Unmarshal(raw, &section); err != nil {
		return nil, fmt.Errorf("re-reading ticketing config: %w", err)
	}
	if tc.Timeout > 0 {
		section["timeout"] = tc.Timeout.String()
	} else {
		delete(section, "timeout")
	}
	return section, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validSystems = map[models.TicketingSystem]bool{
	models.TicketingNone:   true,
	models.TicketingJira:   true,
	models.TicketingAzure:  true,
	models.TicketingGitHub: true,
}

// ValidateConfig checks the configuration for invalid values and returns a
// clear error message identifying every problem.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if strings.TrimSpace(cfg.TasksFile) == "" {
		errs = append(errs, "tasks_file must not be empty")
	}
	if cfg.Log.Level != "" && !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level %q is invalid, must be one of: debug, info, warn, error", cfg.Log.Level))
	}
	if f := strings.ToLower(cfg.Log.Format); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Sprintf("log.format %q is invalid, must be text or json", cfg.Log.Format))
	}
	if !validSystems[cfg.Ticketing.System] {
		errs = append(errs, fmt.Sprintf("ticketing.system %q is invalid, must be one of: jira, azure, github, none", cfg.Ticketing.System))
	}
	if cfg.Ticketing.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("ticketing.timeout must be non-negative, got %s", cfg.Ticketing.Timeout))
	}
	if cfg.Alerts.BlockedHours < 0 || cfg.Alerts.StaleDays < 0 || cfg.Alerts.ReviewDays < 0 || cfg.Alerts.MaxSyncFailures < 0 {
		errs = append(errs, "alerts thresholds must be non-negative")
	}
	if u := cfg.Alerts.SlackWebhookURL; u != "" && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Sprintf("alerts.slack_webhook_url %q must start with https://", u))
	}
	if cfg.Ticketing.Enabled && cfg.Ticketing.System == models.TicketingJira {
		if u := cfg.Ticketing.Jira.BaseURL; u != "" && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
			errs = append(errs, fmt.Sprintf("ticketing.jira.base_url %q must start with http:// or https://", u))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
