package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"visitorlog/internal/apperr"
	"visitorlog/internal/audit"
	"visitorlog/internal/model"
)

// Memory is an in-process twin of Postgres for tests and single-binary demos.
// Every method copies values in and out so callers never share state.
type Memory struct {
	mu       sync.RWMutex
	visitors map[string]model.Visitor
	presence map[string]model.PresenceRecord
	devices  map[string]time.Time
	tokens   map[string]memoryToken
	audit    []audit.Event
	now      func() time.Time
}

type memoryToken struct {
	subject   string
	expiresAt time.Time
	revoked   bool
}

func NewMemory() *Memory {
	return &Memory{
		visitors: make(map[string]model.Visitor),
		presence: make(map[string]model.PresenceRecord),
		devices:  make(map[string]time.Time),
		tokens:   make(map[string]memoryToken),
		now:      time.Now,
	}
}

func copyVisitor(v model.Visitor) *model.Visitor {
	out := v
	if v.LastTrainingDate != nil {
		d := *v.LastTrainingDate
		out.LastTrainingDate = &d
	}
	if v.TrainingExpirationDate != nil {
		d := *v.TrainingExpirationDate
		out.TrainingExpirationDate = &d
	}
	return &out
}

func copyPresence(p model.PresenceRecord) model.PresenceRecord {
	if p.CheckedOutAt != nil {
		t := *p.CheckedOutAt
		p.CheckedOutAt = &t
	}
	return p
}

// oldestMatch picks the earliest-created visitor satisfying match, like the SQL ORDER BY created_at.
func (m *Memory) oldestMatch(match func(model.Visitor) bool) *model.Visitor {
	var found *model.Visitor
	for _, v := range m.visitors {
		if !match(v) {
			continue
		}
		if found == nil || v.CreatedAt.Before(found.CreatedAt) ||
			(v.CreatedAt.Equal(found.CreatedAt) && v.ID < found.ID) {
			found = copyVisitor(v)
		}
	}
	return found
}

func (m *Memory) FindVisitorByName(_ context.Context, name string) (*model.Visitor, error) {
	name = strings.TrimSpace(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.oldestMatch(func(v model.Visitor) bool { return strings.EqualFold(v.Name, name) }), nil
}

func (m *Memory) FindVisitorByEmail(_ context.Context, email string) (*model.Visitor, error) {
	email = strings.TrimSpace(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.oldestMatch(func(v model.Visitor) bool { return v.Email == email }), nil
}

func (m *Memory) GetVisitor(_ context.Context, id string) (*model.Visitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visitors[id]
	if !ok {
		return nil, apperr.NotFound("visitor", id)
	}
	return copyVisitor(v), nil
}

func (m *Memory) CreateVisitor(_ context.Context, v *model.Visitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if _, exists := m.visitors[v.ID]; exists {
		return apperr.Storage("insert visitor", errors.New("duplicate id"))
	}
	now := m.now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	m.visitors[v.ID] = *copyVisitor(*v)
	return nil
}

func (m *Memory) UpdateVisitor(_ context.Context, v *model.Visitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.visitors[v.ID]
	if !ok {
		return apperr.NotFound("visitor", v.ID)
	}
	v.CreatedAt = old.CreatedAt
	v.UpdatedAt = m.now().UTC()
	m.visitors[v.ID] = *copyVisitor(*v)
	return nil
}

func (m *Memory) lastVisit(visitorID string) *time.Time {
	var last *time.Time
	for _, p := range m.presence {
		if p.VisitorID != visitorID {
			continue
		}
		if last == nil || p.CheckedInAt.After(*last) {
			t := p.CheckedInAt
			last = &t
		}
	}
	return last
}

func (m *Memory) SearchVisitors(_ context.Context, query string) ([]model.Candidate, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.Candidate
	for _, v := range m.visitors {
		if !strings.Contains(strings.ToLower(v.Name), q) &&
			!strings.Contains(strings.ToLower(v.Email), q) &&
			!strings.Contains(strings.ToLower(v.Company), q) {
			continue
		}
		res = append(res, model.Candidate{Visitor: *copyVisitor(v), LastVisitAt: m.lastVisit(v.ID)})
	}
	return res, nil
}

func (m *Memory) ListVisitorsByTraining(_ context.Context, t model.TrainingType) ([]model.Visitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.Visitor
	for _, v := range m.visitors {
		if v.TrainingType == t {
			res = append(res, *copyVisitor(v))
		}
	}
	sort.Slice(res, func(i, j int) bool { return strings.ToLower(res[i].Name) < strings.ToLower(res[j].Name) })
	return res, nil
}

func (m *Memory) OpenPresence(_ context.Context, rec *model.PresenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.visitors[rec.VisitorID]; !ok {
		return apperr.Storage("insert presence", errors.New("foreign key violation"))
	}
	for _, p := range m.presence {
		if p.VisitorID == rec.VisitorID && p.Open() {
			return apperr.ErrDuplicatePresence
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.presence[rec.ID] = copyPresence(*rec)
	return nil
}

func (m *Memory) ClosePresence(_ context.Context, visitorID string, at time.Time) (model.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.PresenceRecord
	for _, p := range m.presence {
		if p.VisitorID != visitorID || !p.Open() {
			continue
		}
		if latest == nil || p.CheckedInAt.After(latest.CheckedInAt) {
			cp := p
			latest = &cp
		}
	}
	if latest == nil {
		return model.PresenceRecord{}, apperr.ErrNotPresent
	}
	latest.CheckedOutAt = &at
	m.presence[latest.ID] = copyPresence(*latest)
	return copyPresence(*latest), nil
}

func (m *Memory) HasOpenPresence(_ context.Context, visitorID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.presence {
		if p.VisitorID == visitorID && p.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListOpenPresence(ctx context.Context) ([]model.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visits(func(p model.PresenceRecord) bool { return p.Open() }, 0), nil
}

func (m *Memory) ListVisits(_ context.Context, f model.VisitFilter) ([]model.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visits(func(p model.PresenceRecord) bool {
		if !f.From.IsZero() && p.CheckedInAt.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && !p.CheckedInAt.Before(f.To) {
			return false
		}
		return f.VisitorID == "" || p.VisitorID == f.VisitorID
	}, f.Limit), nil
}

func (m *Memory) visits(keep func(model.PresenceRecord) bool, limit int) []model.Visit {
	var res []model.Visit
	for _, p := range m.presence {
		if !keep(p) {
			continue
		}
		res = append(res, model.Visit{PresenceRecord: copyPresence(p), Visitor: *copyVisitor(m.visitors[p.VisitorID])})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CheckedInAt.After(res[j].CheckedInAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

func (m *Memory) StaleVisitors(_ context.Context, cutoff time.Time) ([]model.Visitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.Visitor
	for _, v := range m.visitors {
		if last := m.lastVisit(v.ID); last == nil || last.Before(cutoff) {
			res = append(res, *copyVisitor(v))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *Memory) PurgeVisitors(_ context.Context, ids []string, cutoff time.Time) (visits int, deleted []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.visitors[id]; !ok {
			continue
		}
		if last := m.lastVisit(id); last != nil && !last.Before(cutoff) {
			continue
		}
		doomed[id] = true
		deleted = append(deleted, id)
	}
	for id, p := range m.presence {
		if doomed[p.VisitorID] {
			delete(m.presence, id)
			visits++
		}
	}
	for id := range doomed {
		delete(m.visitors, id)
	}
	sort.Strings(deleted)
	return visits, deleted, nil
}

// PresenceCount returns the number of stored presence records for a visitor, open or closed.
func (m *Memory) PresenceCount(visitorID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.presence {
		if p.VisitorID == visitorID {
			n++
		}
	}
	return n
}

func (m *Memory) UpsertDevice(_ context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		m.devices[deviceID] = m.now().UTC()
	}
	return nil
}

func (m *Memory) SaveRefreshToken(_ context.Context, subject, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = memoryToken{subject: subject, expiresAt: expiresAt}
	return nil
}

func (m *Memory) ConsumeRefreshToken(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || t.revoked || !t.expiresAt.After(m.now()) {
		return false, nil
	}
	t.revoked = true
	m.tokens[token] = t
	return true, nil
}

func (m *Memory) AppendAudit(_ context.Context, evt audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, evt)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, limit int) ([]audit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	res := make([]audit.Event, 0, limit)
	for i := len(m.audit) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, m.audit[i])
	}
	return res, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
