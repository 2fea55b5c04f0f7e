package ticketsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/valter-silva-au/taskmaster/internal/ticketing"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type remoteTicket struct {
	status    string
	updatedAt *time.Time
	parent    string
	refID     string
}

// fakeProvider is an in-memory Jira-flavoured provider.
type fakeProvider struct {
	mu       sync.Mutex
	tickets  map[string]*remoteTicket
	nextKey  int
	failAll  bool
	calls    []string
	statuses []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{tickets: map[string]*remoteTicket{}, nextKey: 9}
}

var jiraLike = ticketing.NewJiraProvider(models.TicketingConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeProvider) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeProvider) Name() models.TicketingSystem      { return models.TicketingJira }
func (f *fakeProvider) IsConfigured(context.Context) bool { return true }
func (f *fakeProvider) ValidateConfig(context.Context) *models.TicketingConfig {
	return &models.TicketingConfig{Enabled: true, System: models.TicketingJira}
}

func (f *fakeProvider) create(item ticketing.Ticketable, parent string) *ticketing.TicketRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil
	}
	key := fmt.Sprintf("PROJ-%d", f.nextKey)
	f.nextKey++
	f.tickets[key] = &remoteTicket{status: "To Do", parent: parent, refID: item.ItemMetadata().RefID()}
	return &ticketing.TicketRef{Key: key}
}

func (f *fakeProvider) CreateStory(_ context.Context, task ticketing.Ticketable) *ticketing.TicketRef {
	f.record("create_story:" + task.ItemID())
	return f.create(task, "")
}

func (f *fakeProvider) CreateTask(_ context.Context, sub ticketing.Ticketable, parent string) *ticketing.TicketRef {
	f.record("create_task:" + sub.ItemID())
	f.mu.Lock()
	_, ok := f.tickets[parent]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return f.create(sub, parent)
}

func (f *fakeProvider) FindTicketByRefID(_ context.Context, refID string) string {
	f.record("find:" + refID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if refID == "" {
		return ""
	}
	for key, t := range f.tickets {
		if t.refID == refID {
			return key
		}
	}
	return ""
}

func (f *fakeProvider) TicketExists(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tickets[id]
	return ok
}

func (f *fakeProvider) GetTicketStatus(_ context.Context, id string) *ticketing.RemoteStatus {
	f.record("get_status:" + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok || f.failAll {
		return nil
	}
	return &ticketing.RemoteStatus{Status: t.status, UpdatedAt: t.updatedAt}
}

func (f *fakeProvider) UpdateTicketStatus(ctx context.Context, id string, status models.TaskStatus, recreate *ticketing.Recreate) bool {
	f.record("update_status:" + id)
	f.mu.Lock()
	t, ok := f.tickets[id]
	fail := f.failAll
	f.mu.Unlock()
	if fail {
		return false
	}
	if !ok {
		if recreate == nil {
			return false
		}
		ref := f.create(recreate.Item, recreate.ParentTicketID)
		f.StoreTicketID(recreate.Item, ref.Key)
		id = ref.Key
		f.mu.Lock()
		t = f.tickets[id]
		f.mu.Unlock()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.status = f.MapStatusToTicket(status)
	f.statuses = append(f.statuses, id+"="+string(status))
	return true
}

func (f *fakeProvider) UpdateTicketDetails(_ context.Context, id string, _, _ ticketing.TicketData) bool {
	f.record("update_details:" + id)
	return !f.failAll
}

func (f *fakeProvider) DeleteTicket(_ context.Context, id string) bool {
	f.record("delete:" + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return false
	}
	delete(f.tickets, id)
	return true
}

func (f *fakeProvider) GetTicketID(item ticketing.Ticketable, opts ticketing.GetTicketIDOptions) string {
	return jiraLike.GetTicketID(item, opts)
}

func (f *fakeProvider) StoreTicketID(item ticketing.Ticketable, id string) {
	jiraLike.StoreTicketID(item, id)
}

func (f *fakeProvider) MetadataKey() string { return models.MetaJiraKey }

func (f *fakeProvider) MapStatusToTicket(s models.TaskStatus) string {
	return jiraLike.MapStatusToTicket(s)
}

func (f *fakeProvider) MapTicketStatusToTaskmaster(s string) models.TaskStatus {
	return jiraLike.MapTicketStatusToTaskmaster(s)
}

func (f *fakeProvider) MapPriorityToTicket(p models.Priority) string {
	return jiraLike.MapPriorityToTicket(p)
}

func (f *fakeProvider) MapTicketPriorityToTaskmaster(p string) models.Priority {
	return jiraLike.MapTicketPriorityToTaskmaster(p)
}

func (f *fakeProvider) FormatTitleForTicket(item ticketing.Ticketable) string {
	return jiraLike.FormatTitleForTicket(item)
}

func (f *fakeProvider) seed(key, status string, updatedAt *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[key] = &remoteTicket{status: status, updatedAt: updatedAt}
}

// fakeSource hands out a fixed provider.
type fakeSource struct {
	provider ticketing.Provider
	enabled  bool
}

func (s *fakeSource) GetInstance(models.TicketingSystem) ticketing.Provider {
	if !s.enabled {
		return nil
	}
	return s.provider
}

func (s *fakeSource) Enabled() bool { return s.enabled }

// memStore is an in-memory Store that counts writes.
type memStore struct {
	mu     sync.Mutex
	files  map[string]*models.TasksFile
	writes int
	reads  int
}

func newMemStore(path string, data *models.TasksFile) *memStore {
	s := &memStore{files: map[string]*models.TasksFile{}}
	if data != nil {
		s.files[path] = cloneFile(data)
	}
	return s
}

func cloneFile(f *models.TasksFile) *models.TasksFile {
	c := &models.TasksFile{Tasks: make([]models.Task, len(f.Tasks))}
	for i := range f.Tasks {
		c.Tasks[i] = *f.Tasks[i].Clone()
	}
	c.LinkSubtasks()
	return c
}

func (s *memStore) Read(path string) (*models.TasksFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	f, ok := s.files[path]
	if !ok {
		return &models.TasksFile{Tasks: []models.Task{}}, nil
	}
	return cloneFile(f), nil
}

func (s *memStore) Update(path string, fn func(*models.TasksFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok {
		f = &models.TasksFile{Tasks: []models.Task{}}
	}
	work := cloneFile(f)
	if err := fn(work); err != nil {
		return err
	}
	s.files[path] = work
	s.writes++
	return nil
}

func (s *memStore) snapshot(path string) *models.TasksFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneFile(s.files[path])
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// auditLog captures audit records.
type auditLog struct {
	mu      sync.Mutex
	records []string
}

func (a *auditLog) Record(eventType, itemID, _ string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, eventType+":"+itemID)
}

func (a *auditLog) has(record string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if r == record {
			return true
		}
	}
	return false
}
