package ticketing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// DefaultTimeout bounds every provider request when the configuration does
// not set one. It matches the MCP request budget.
const DefaultTimeout = 2 * time.Minute

// jiraTimeLayout is the timestamp format Jira Cloud uses for "updated".
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// JiraProvider talks to the Jira Cloud REST API v3.
type JiraProvider struct {
	base
	cfg    models.TicketingConfig
	client *http.Client
}

// NewJiraProvider creates a Jira provider from the ticketing configuration.
func NewJiraProvider(cfg models.TicketingConfig, logger *slog.Logger) *JiraProvider {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cfg.Jira.StoryIssueType == "" {
		cfg.Jira.StoryIssueType = "Story"
	}
	if cfg.Jira.SubtaskIssueType == "" {
		cfg.Jira.SubtaskIssueType = "Subtask"
	}
	cfg.Jira.BaseURL = strings.TrimRight(cfg.Jira.BaseURL, "/")

	return &JiraProvider{
		base: base{
			name:       models.TicketingJira,
			metaKey:    models.MetaJiraKey,
			titleFmt:   "%s: %s",
			statuses:   jiraStatuses,
			priorities: jiraPriorities,
			logger:     logger.With("provider", "jira"),
		},
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// IsConfigured reports whether every required Jira setting is present.
func (p *JiraProvider) IsConfigured(ctx context.Context) bool {
	return p.ValidateConfig(ctx) != nil
}

// ValidateConfig logs every missing or placeholder setting and returns nil
// if any was found.
func (p *JiraProvider) ValidateConfig(_ context.Context) *models.TicketingConfig {
	required := []struct {
		key   string
		value string
	}{
		{"ticketing.jira.base_url", p.cfg.Jira.BaseURL},
		{"ticketing.jira.email", p.cfg.Jira.Email},
		{"ticketing.jira.api_token", p.cfg.Jira.APIToken},
		{"ticketing.jira.project_key", p.cfg.Jira.ProjectKey},
	}

	valid := true
	for _, r := range required {
		if isPlaceholder(r.value) {
			p.logger.Warn("jira configuration incomplete", "setting", r.key)
			valid = false
		}
	}
	if !valid {
		return nil
	}
	cfg := p.cfg
	return &cfg
}

// CreateStory creates a top-level issue for task.
func (p *JiraProvider) CreateStory(ctx context.Context, task Ticketable) *TicketRef {
	if p.ValidateConfig(ctx) == nil || task == nil {
		return nil
	}
	body, err := p.issueFields(task, p.cfg.Jira.StoryIssueType, "")
	if err != nil {
		p.logger.Error("building jira story payload", "task", task.ItemID(), "error", err)
		return nil
	}
	return p.createIssue(ctx, task, body)
}

// CreateTask creates a subtask issue under parentTicketID. The parent must
// already exist in Jira.
func (p *JiraProvider) CreateTask(ctx context.Context, subtask Ticketable, parentTicketID string) *TicketRef {
	if p.ValidateConfig(ctx) == nil || subtask == nil {
		return nil
	}
	if parentTicketID == "" {
		p.logger.Warn("cannot create jira subtask without parent ticket", "subtask", subtask.ItemID())
		return nil
	}
	if !p.TicketExists(ctx, parentTicketID) {
		p.logger.Warn("parent jira issue does not exist", "subtask", subtask.ItemID(), "parent", parentTicketID)
		return nil
	}
	body, err := p.issueFields(subtask, p.cfg.Jira.SubtaskIssueType, parentTicketID)
	if err != nil {
		p.logger.Error("building jira subtask payload", "subtask", subtask.ItemID(), "error", err)
		return nil
	}
	return p.createIssue(ctx, subtask, body)
}

func (p *JiraProvider) createIssue(ctx context.Context, item Ticketable, body []byte) *TicketRef {
	status, resp, err := p.do(ctx, http.MethodPost, "/rest/api/3/issue", body)
	if err != nil {
		p.logger.Error("creating jira issue", "item", item.ItemID(), "error", err)
		return nil
	}
	if status != http.StatusCreated && status != http.StatusOK {
		p.logger.Error("creating jira issue failed",
			"item", item.ItemID(), "status", status, "body", truncate(resp))
		return nil
	}

	key := gjson.GetBytes(resp, "key").String()
	if key == "" {
		p.logger.Error("jira create response missing key", "item", item.ItemID())
		return nil
	}
	p.logger.Info("created jira issue", "item", item.ItemID(), "key", key)
	return &TicketRef{
		Key: key,
		ID:  gjson.GetBytes(resp, "id").String(),
		URL: p.cfg.Jira.BaseURL + "/browse/" + key,
	}
}

// issueFields builds the create payload for item.
func (p *JiraProvider) issueFields(item Ticketable, issueType, parentKey string) ([]byte, error) {
	doc := `{"fields":{}}`
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		doc, err = sjson.Set(doc, path, value)
	}
	set("fields.project.key", p.cfg.Jira.ProjectKey)
	set("fields.summary", p.FormatTitleForTicket(item))
	set("fields.issuetype.name", issueType)
	set("fields.labels", []string{"taskmaster"})
	if item.ItemPriority() != "" {
		set("fields.priority.name", p.MapPriorityToTicket(item.ItemPriority()))
	}
	if parentKey != "" {
		set("fields.parent.key", parentKey)
	}
	if err != nil {
		return nil, err
	}

	adf, err := buildADF(item.ItemMetadata().RefID(), item.ItemDescription(), item.ItemDetails())
	if err != nil {
		return nil, err
	}
	doc, err = sjson.SetRaw(doc, "fields.description", adf)
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// buildADF renders description and details as an Atlassian Document Format
// document, one paragraph per non-empty block.
func buildADF(refID, description, details string) (string, error) {
	doc := `{"type":"doc","version":1,"content":[]}`
	var blocks []string
	if description != "" {
		blocks = append(blocks, description)
	}
	if details != "" {
		blocks = append(blocks, "Implementation details:\n"+details)
	}
	if refID != "" {
		blocks = append(blocks, "Taskmaster reference: "+refID)
	}
	if len(blocks) == 0 {
		blocks = append(blocks, "No description provided.")
	}

	var err error
	for _, text := range blocks {
		para := map[string]any{
			"type": "paragraph",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		}
		doc, err = sjson.Set(doc, "content.-1", para)
		if err != nil {
			return "", err
		}
	}
	return doc, nil
}

// FindTicketByRefID searches the project for an issue whose summary starts
// with refID followed by the title separator, so "US100" never matches
// "US1000: ...".
func (p *JiraProvider) FindTicketByRefID(ctx context.Context, refID string) string {
	if refID == "" || p.ValidateConfig(ctx) == nil {
		return ""
	}
	jql := fmt.Sprintf(`project = "%s" AND summary ~ "%s" ORDER BY created DESC`, p.cfg.Jira.ProjectKey, refID)
	body, err := sjson.SetBytes([]byte(`{}`), "jql", jql)
	if err == nil {
		body, err = sjson.SetBytes(body, "fields", []string{"summary"})
	}
	if err == nil {
		body, err = sjson.SetBytes(body, "maxResults", 10)
	}
	if err != nil {
		p.logger.Error("building jira search payload", "ref_id", refID, "error", err)
		return ""
	}

	status, resp, err := p.do(ctx, http.MethodPost, "/rest/api/3/search", body)
	if err != nil || status != http.StatusOK {
		p.logger.Warn("jira search failed", "ref_id", refID, "status", status, "error", err)
		return ""
	}

	prefix := p.formatTitle(refID, "")
	for _, issue := range gjson.GetBytes(resp, "issues").Array() {
		summary := issue.Get("fields.summary").String()
		if strings.HasPrefix(summary, prefix) {
			return issue.Get("key").String()
		}
	}
	return ""
}

type issueState int

const (
	issueUnknown issueState = iota
	issueExists
	issueMissing
)

// lookupIssue fetches the issue. Only a 404 counts as missing; transport
// errors and any other status leave the state unknown.
func (p *JiraProvider) lookupIssue(ctx context.Context, ticketID string) issueState {
	status, _, err := p.do(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(ticketID)+"?fields=summary", nil)
	switch {
	case err != nil:
		p.logger.Warn("checking jira issue", "key", ticketID, "error", err)
		return issueUnknown
	case status == http.StatusOK:
		return issueExists
	case status == http.StatusNotFound:
		return issueMissing
	default:
		p.logger.Warn("checking jira issue", "key", ticketID, "status", status)
		return issueUnknown
	}
}

// TicketExists reports whether the issue can be fetched.
func (p *JiraProvider) TicketExists(ctx context.Context, ticketID string) bool {
	if ticketID == "" || p.ValidateConfig(ctx) == nil {
		return false
	}
	return p.lookupIssue(ctx, ticketID) == issueExists
}

// GetTicketStatus returns the workflow status name and last update time.
func (p *JiraProvider) GetTicketStatus(ctx context.Context, ticketID string) *RemoteStatus {
	if ticketID == "" || p.ValidateConfig(ctx) == nil {
		return nil
	}
	status, resp, err := p.do(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(ticketID)+"?fields=status,updated", nil)
	if err != nil || status != http.StatusOK {
		p.logger.Warn("fetching jira issue status", "key", ticketID, "status", status, "error", err)
		return nil
	}

	name := gjson.GetBytes(resp, "fields.status.name").String()
	if name == "" {
		return nil
	}
	rs := &RemoteStatus{Status: name}
	if ts, ok := parseJiraTime(gjson.GetBytes(resp, "fields.updated").String()); ok {
		rs.UpdatedAt = &ts
	}
	return rs
}

func parseJiraTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{jiraTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// UpdateTicketStatus transitions the issue to the Jira state mapped from
// status. When Jira answers 404 for the issue and recreate is given, a new
// issue is created first and its key stored on recreate.Item. Any other
// failure to look the issue up fails the update without creating anything.
func (p *JiraProvider) UpdateTicketStatus(ctx context.Context, ticketID string, status models.TaskStatus, recreate *Recreate) bool {
	if p.ValidateConfig(ctx) == nil {
		return false
	}

	state := issueMissing
	if ticketID != "" {
		state = p.lookupIssue(ctx, ticketID)
	}
	if state == issueUnknown {
		p.logger.Error("jira issue state unknown, status not updated", "key", ticketID)
		return false
	}
	if state == issueMissing {
		if recreate == nil || recreate.Item == nil {
			p.logger.Warn("jira issue not found, nothing to update", "key", ticketID)
			return false
		}
		var ref *TicketRef
		if recreate.Item.IsSubtask() {
			ref = p.CreateTask(ctx, recreate.Item, recreate.ParentTicketID)
		} else {
			ref = p.CreateStory(ctx, recreate.Item)
		}
		if ref == nil {
			p.logger.Error("recreating missing jira issue failed", "key", ticketID, "item", recreate.Item.ItemID())
			return false
		}
		p.StoreTicketID(recreate.Item, ref.Key)
		p.logger.Info("recreated missing jira issue", "old_key", ticketID, "new_key", ref.Key)
		ticketID = ref.Key
	}

	target := p.MapStatusToTicket(status)

	if current := p.GetTicketStatus(ctx, ticketID); current != nil && strings.EqualFold(current.Status, target) {
		return true
	}

	code, resp, err := p.do(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(ticketID)+"/transitions", nil)
	if err != nil || code != http.StatusOK {
		p.logger.Error("listing jira transitions", "key", ticketID, "status", code, "error", err)
		return false
	}

	transitionID := ""
	for _, tr := range gjson.GetBytes(resp, "transitions").Array() {
		if strings.EqualFold(tr.Get("to.name").String(), target) || strings.EqualFold(tr.Get("name").String(), target) {
			transitionID = tr.Get("id").String()
			break
		}
	}
	if transitionID == "" {
		p.logger.Warn("no jira transition reaches target status", "key", ticketID, "target", target)
		return false
	}

	body, err := sjson.SetBytes([]byte(`{}`), "transition.id", transitionID)
	if err != nil {
		p.logger.Error("building jira transition payload", "key", ticketID, "error", err)
		return false
	}
	code, resp, err = p.do(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(ticketID)+"/transitions", body)
	if err != nil || (code != http.StatusNoContent && code != http.StatusOK) {
		p.logger.Error("applying jira transition", "key", ticketID, "status", code, "error", err, "body", truncate(resp))
		return false
	}
	p.logger.Info("transitioned jira issue", "key", ticketID, "status", target)
	return true
}

// UpdateTicketDetails sends only the fields that differ between
// previousData and newData.
func (p *JiraProvider) UpdateTicketDetails(ctx context.Context, ticketID string, newData, previousData TicketData) bool {
	if ticketID == "" || p.ValidateConfig(ctx) == nil {
		return false
	}

	doc := `{"fields":{}}`
	changed := 0
	var err error
	if newData.Title != previousData.Title || newData.RefID != previousData.RefID {
		doc, err = sjson.Set(doc, "fields.summary", p.formatTitle(newData.RefID, newData.Title))
		changed++
	}
	if err == nil && (newData.Description != previousData.Description || newData.Details != previousData.Details) {
		var adf string
		adf, err = buildADF(newData.RefID, newData.Description, newData.Details)
		if err == nil {
			doc, err = sjson.SetRaw(doc, "fields.description", adf)
		}
		changed++
	}
	if err == nil && newData.Priority != previousData.Priority && newData.Priority != "" {
		doc, err = sjson.Set(doc, "fields.priority.name", p.MapPriorityToTicket(newData.Priority))
		changed++
	}
	if err != nil {
		p.logger.Error("building jira update payload", "key", ticketID, "error", err)
		return false
	}
	if changed == 0 {
		p.logger.Debug("no jira fields changed", "key", ticketID)
		return true
	}

	code, resp, err := p.do(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(ticketID), []byte(doc))
	if err != nil || (code != http.StatusNoContent && code != http.StatusOK) {
		p.logger.Error("updating jira issue", "key", ticketID, "status", code, "error", err, "body", truncate(resp))
		return false
	}
	p.logger.Info("updated jira issue details", "key", ticketID, "fields", changed)
	return true
}

// DeleteTicket removes the issue and any Jira-side subtasks.
func (p *JiraProvider) DeleteTicket(ctx context.Context, ticketID string) bool {
	if ticketID == "" || p.ValidateConfig(ctx) == nil {
		return false
	}
	code, resp, err := p.do(ctx, http.MethodDelete, "/rest/api/3/issue/"+url.PathEscape(ticketID)+"?deleteSubtasks=true", nil)
	if err != nil || (code != http.StatusNoContent && code != http.StatusOK) {
		p.logger.Error("deleting jira issue", "key", ticketID, "status", code, "error", err, "body", truncate(resp))
		return false
	}
	p.logger.Info("deleted jira issue", "key", ticketID)
	return true
}

// do performs an authenticated request and returns the status code and body.
func (p *JiraProvider) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.Jira.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(p.cfg.Jira.Email, p.cfg.Jira.APIToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func isPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	upper := strings.ToUpper(v)
	return strings.HasPrefix(upper, "YOUR_") || strings.HasPrefix(upper, "YOUR-") ||
		strings.HasPrefix(v, "<") || strings.Contains(upper, "PLACEHOLDER")
}

func truncate(b []byte) string {
	const limit = 300
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
