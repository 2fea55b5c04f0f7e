package ticketing

import (
	"context"
	"log/slog"

	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// stubRemote implements the network half of Provider for systems whose REST
// integration has not been written yet. Every remote call logs and reports
// failure, which handlers already treat as "nothing to do".
type stubRemote struct {
	base
}

func (s *stubRemote) notImplemented(op string, attrs ...any) {
	s.logger.Warn(string(s.name)+" remote operation not implemented", append([]any{"op", op}, attrs...)...)
}

func (s *stubRemote) CreateStory(_ context.Context, task Ticketable) *TicketRef {
	s.notImplemented("create_story", "item", itemID(task))
	return nil
}

func (s *stubRemote) CreateTask(_ context.Context, subtask Ticketable, parentTicketID string) *TicketRef {
	s.notImplemented("create_task", "item", itemID(subtask), "parent", parentTicketID)
	return nil
}

func (s *stubRemote) FindTicketByRefID(_ context.Context, refID string) string {
	s.notImplemented("find_ticket", "ref_id", refID)
	return ""
}

func (s *stubRemote) TicketExists(_ context.Context, ticketID string) bool {
	s.notImplemented("ticket_exists", "ticket", ticketID)
	return false
}

func (s *stubRemote) GetTicketStatus(_ context.Context, ticketID string) *RemoteStatus {
	s.notImplemented("get_status", "ticket", ticketID)
	return nil
}

func (s *stubRemote) UpdateTicketStatus(_ context.Context, ticketID string, status models.TaskStatus, _ *Recreate) bool {
	s.notImplemented("update_status", "ticket", ticketID, "status", status)
	return false
}

func (s *stubRemote) UpdateTicketDetails(_ context.Context, ticketID string, _, _ TicketData) bool {
	s.notImplemented("update_details", "ticket", ticketID)
	return false
}

func (s *stubRemote) DeleteTicket(_ context.Context, ticketID string) bool {
	s.notImplemented("delete", "ticket", ticketID)
	return false
}

func itemID(item Ticketable) string {
	if item == nil {
		return ""
	}
	return item.ItemID()
}

// AzureDevOpsProvider maps tasks to Azure Boards work items.
type AzureDevOpsProvider struct {
	stubRemote
	cfg models.AzureConfig
}

// NewAzureDevOpsProvider creates the Azure DevOps provider.
func NewAzureDevOpsProvider(cfg models.TicketingConfig, logger *slog.Logger) *AzureDevOpsProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &AzureDevOpsProvider{
		stubRemote: stubRemote{base: base{
			name:       models.TicketingAzure,
			metaKey:    models.MetaAzureWorkItemID,
			titleFmt:   "[%s] %s",
			statuses:   azureStatuses,
			priorities: azurePriorities,
			logger:     logger.With("provider", "azure"),
		}},
		cfg: cfg.Azure,
	}
}

func (p *AzureDevOpsProvider) IsConfigured(ctx context.Context) bool {
	return p.ValidateConfig(ctx) != nil
}

func (p *AzureDevOpsProvider) ValidateConfig(_ context.Context) *models.TicketingConfig {
	valid := true
	for key, v := range map[string]string{
		"ticketing.azure.organization": p.cfg.Organization,
		"ticketing.azure.project":      p.cfg.Project,
		"ticketing.azure.pat":          p.cfg.PAT,
	} {
		if isPlaceholder(v) {
			p.logger.Warn("azure devops configuration incomplete", "setting", key)
			valid = false
		}
	}
	if !valid {
		return nil
	}
	return &models.TicketingConfig{Enabled: true, System: models.TicketingAzure, Azure: p.cfg}
}

// GitHubProjectsProvider maps tasks to GitHub issues tracked on a project board.
type GitHubProjectsProvider struct {
	stubRemote
	cfg models.GitHubConfig
}

// NewGitHubProjectsProvider creates the GitHub Projects provider.
func NewGitHubProjectsProvider(cfg models.TicketingConfig, logger *slog.Logger) *GitHubProjectsProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubProjectsProvider{
		stubRemote: stubRemote{base: base{
			name:       models.TicketingGitHub,
			metaKey:    models.MetaGitHubIssueID,
			titleFmt:   "%s · %s",
			statuses:   githubStatuses,
			priorities: githubPriorities,
			logger:     logger.With("provider", "github"),
		}},
		cfg: cfg.GitHub,
	}
}

func (p *GitHubProjectsProvider) IsConfigured(ctx context.Context) bool {
	return p.ValidateConfig(ctx) != nil
}

func (p *GitHubProjectsProvider) ValidateConfig(_ context.Context) *models.TicketingConfig {
	valid := true
	for key, v := range map[string]string{
		"ticketing.github.owner": p.cfg.Owner,
		"ticketing.github.repo":  p.cfg.Repo,
		"ticketing.github.token": p.cfg.Token,
	} {
		if isPlaceholder(v) {
			p.logger.Warn("github projects configuration incomplete", "setting", key)
			valid = false
		}
	}
	if !valid {
		return nil
	}
	return &models.TicketingConfig{Enabled: true, System: models.TicketingGitHub, GitHub: p.cfg}
}
