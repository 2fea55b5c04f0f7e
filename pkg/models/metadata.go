package models

import (
	"fmt"
	"time"
)

// Well-known metadata keys.
const (
	MetaRefID            = "refId"
	MetaJiraKey          = "jiraKey"
	MetaAzureWorkItemID  = "azureWorkItemId"
	MetaGitHubIssueID    = "githubIssueId"
	MetaLastStatusUpdate = "lastStatusUpdate"
)

// Metadata is the open map stored on every task and subtask. It holds the
// refId, provider ticket keys and the lastStatusUpdate timestamp alongside
// arbitrary user data.
type Metadata map[string]any

// String returns the value at key as a string. Numbers are formatted so that
// numeric ticket ids (Azure work items, GitHub issues) read back cleanly.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	case int:
		return fmt.Sprintf("%d", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// RefID returns the stable cross-reference identifier, or "".
func (m Metadata) RefID() string {
	return m.String(MetaRefID)
}

// SetRefID assigns the refId. An existing refId is never overwritten; the
// return value reports whether the value was stored.
func (m Metadata) SetRefID(refID string) bool {
	if m.RefID() != "" || refID == "" {
		return false
	}
	m[MetaRefID] = refID
	return true
}

// LastStatusUpdate parses the lastStatusUpdate timestamp. ok is false when
// the key is missing or unparsable.
func (m Metadata) LastStatusUpdate() (t time.Time, ok bool) {
	raw := m.String(MetaLastStatusUpdate)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TouchStatus records t as the moment the local status last changed.
func (m Metadata) TouchStatus(t time.Time) {
	m[MetaLastStatusUpdate] = t.UTC().Format(time.RFC3339Nano)
}

// Merge copies every key of other into m.
func (m Metadata) Merge(other map[string]any) {
	for k, v := range other {
		m[k] = v
	}
}

// Clone returns a shallow copy of the map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
