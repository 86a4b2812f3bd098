package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"cardscan/models"
)

// MemoryStore keeps everything in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	nextID   uint
	roles    map[uint]*models.Role
	users    map[uint]*models.User
	tokens   map[uint]*models.RefreshToken
	sessions map[string]*models.Session
	scans    map[uint]*models.Scan
	records  map[string][]models.Record // session id -> rows in position order
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:    make(map[uint]*models.Role),
		users:    make(map[uint]*models.User),
		tokens:   make(map[uint]*models.RefreshToken),
		sessions: make(map[string]*models.Session),
		scans:    make(map[uint]*models.Scan),
		records:  make(map[string][]models.Record),
	}
}

func (m *MemoryStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) EnsureRole(_ context.Context, name, description string) (*models.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	now := time.Now()
	r := &models.Role{ID: m.id(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	m.roles[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) RoleByID(_ context.Context, id uint) (*models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrExists
		}
	}
	now := time.Now()
	u.ID = m.id()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) UserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UserByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, userID uint, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.HashedPassword = append([]byte(nil), hash...)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateRefreshToken(_ context.Context, rt *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == rt.TokenHash {
			return ErrExists
		}
	}
	now := time.Now()
	rt.ID = m.id()
	rt.CreatedAt, rt.UpdatedAt = now, now
	cp := *rt
	m.tokens[rt.ID] = &cp
	return nil
}

func (m *MemoryStore) RefreshTokenByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) RevokeRefreshToken(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.Revoked = true
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) SessionByID(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID uint) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateScan(_ context.Context, s *models.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	s.ID = m.id()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.scans[s.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateScan(_ context.Context, s *models.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[s.ID]; !ok {
		return ErrNotFound
	}
	s.UpdatedAt = time.Now()
	cp := *s
	m.scans[s.ID] = &cp
	return nil
}

func (m *MemoryStore) ScanByID(_ context.Context, sessionID string, id uint) (*models.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scans[id]
	if !ok || s.SessionID != sessionID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListScans(_ context.Context, sessionID string) ([]models.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Scan
	for _, s := range m.scans {
		if s.SessionID == sessionID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) AppendRecord(_ context.Context, sessionID string, r *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	r.ID = m.id()
	r.SessionID = sessionID
	r.Position = len(m.records[sessionID])
	r.CreatedAt, r.UpdatedAt = now, now
	m.records[sessionID] = append(m.records[sessionID], *r)
	return nil
}

func (m *MemoryStore) ListRecords(_ context.Context, sessionID string) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.records[sessionID]
	out := make([]models.Record, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *MemoryStore) UpdateRecord(_ context.Context, sessionID string, pos int, first, last string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.records[sessionID]
	if pos < 0 || pos >= len(rows) {
		return nil, ErrOutOfRange
	}
	rows[pos].FirstName = first
	rows[pos].LastName = last
	rows[pos].UpdatedAt = time.Now()
	cp := rows[pos]
	return &cp, nil
}

func (m *MemoryStore) DeleteRecord(_ context.Context, sessionID string, pos int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.records[sessionID]
	if pos < 0 || pos >= len(rows) {
		return ErrOutOfRange
	}
	rows = append(rows[:pos], rows[pos+1:]...)
	for i := pos; i < len(rows); i++ {
		rows[i].Position = i
	}
	m.records[sessionID] = rows
	return nil
}

func (m *MemoryStore) ReplaceRecords(_ context.Context, sessionID string, rows []models.Record) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]models.Record, len(rows))
	for i, r := range rows {
		out[i] = models.Record{
			ID:        m.id(),
			CreatedAt: now,
			UpdatedAt: now,
			SessionID: sessionID,
			Position:  i,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			ScanID:    r.ScanID,
		}
	}
	m.records[sessionID] = out
	for _, sc := range m.scans {
		if sc.SessionID == sessionID {
			sc.RecordID = nil
		}
	}
	for i := range out {
		if out[i].ScanID == nil {
			continue
		}
		if sc, ok := m.scans[*out[i].ScanID]; ok && sc.SessionID == sessionID {
			id := out[i].ID
			sc.RecordID = &id
		}
	}
	cp := make([]models.Record, len(out))
	copy(cp, out)
	return cp, nil
}

func (m *MemoryStore) ClearRecords(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
