package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"civicdesk/internal/models"
	"civicdesk/internal/notify"
)

// memState is the cloneable backing state of the fake store. InTx operates on
// a deep copy and swaps it in only when the closure succeeds, mimicking
// transactional rollback.
type memState struct {
	complaints map[string]*models.Complaint
	codes      map[string]string // sequence code -> complaint id (unique index)
	logs       []models.StatusLogEntry
	users      map[string]*models.User
	sessions   []*models.OTPSession
	cfg        models.SystemConfig
	types      map[string]*models.ComplaintType
}

func (st *memState) clone() *memState {
	out := &memState{
		complaints: map[string]*models.Complaint{},
		codes:      map[string]string{},
		users:      map[string]*models.User{},
		types:      map[string]*models.ComplaintType{},
		cfg:        st.cfg,
	}
	for k, v := range st.complaints {
		c := *v
		out.complaints[k] = &c
	}
	for k, v := range st.codes {
		out.codes[k] = v
	}
	for k, v := range st.users {
		u := *v
		out.users[k] = &u
	}
	for k, v := range st.types {
		t := *v
		out.types[k] = &t
	}
	out.logs = append(out.logs, st.logs...)
	for _, s := range st.sessions {
		c := *s
		out.sessions = append(out.sessions, &c)
	}
	return out
}

type memStore struct {
	mu sync.Mutex
	st *memState

	// seqCodesFn, when set, overrides SequenceCodes to simulate stale reads
	// from concurrent writers.
	seqCodesFn func(prefix string) ([]string, error)
}

func newMemStore() *memStore {
	return &memStore{st: &memState{
		complaints: map[string]*models.Complaint{},
		codes:      map[string]string{},
		users:      map[string]*models.User{},
		types: map[string]*models.ComplaintType{
			"WATER_SUPPLY": {ID: uuid.New().String(), Name: "WATER_SUPPLY", SLAHours: 24, Active: true},
			"STREETLIGHT":  {ID: uuid.New().String(), Name: "STREETLIGHT", SLAHours: 72, Active: true},
			"RETIRED_TYPE": {ID: uuid.New().String(), Name: "RETIRED_TYPE", SLAHours: 24, Active: false},
		},
		cfg: models.SystemConfig{SequencePrefix: "KSC", SequenceStart: 1, SequencePad: 4, AutoAssign: true},
	}}
}

func (m *memStore) addUser(u models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	m.st.users[u.ID] = &u
	return &u
}

func (m *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.st.clone()
	if err := fn(&memTx{st: work, store: m}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// Auto-commit reads go through a single-shot tx over live state.
func (m *memStore) live() *memTx { return &memTx{st: m.st, store: m} }

func (m *memStore) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().GetComplaint(ctx, id)
}

func (m *memStore) GetComplaintBySequence(ctx context.Context, code string) (*models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().GetComplaintBySequence(ctx, code)
}

func (m *memStore) InsertComplaint(ctx context.Context, c *models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().InsertComplaint(ctx, c)
}

func (m *memStore) UpdateComplaint(ctx context.Context, c *models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().UpdateComplaint(ctx, c)
}

func (m *memStore) SequenceCodes(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().SequenceCodes(ctx, prefix)
}

func (m *memStore) AppendStatusLog(ctx context.Context, e *models.StatusLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().AppendStatusLog(ctx, e)
}

func (m *memStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().GetUser(ctx, id)
}

func (m *memStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().FindUserByEmail(ctx, email)
}

func (m *memStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().CreateUser(ctx, u)
}

func (m *memStore) AssignableStaff(ctx context.Context, wardID, role string) ([]StaffLoad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().AssignableStaff(ctx, wardID, role)
}

func (m *memStore) InvalidateOTPSessions(ctx context.Context, email string, purpose models.OTPPurpose, asOf time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().InvalidateOTPSessions(ctx, email, purpose, asOf)
}

func (m *memStore) InsertOTPSession(ctx context.Context, s *models.OTPSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().InsertOTPSession(ctx, s)
}

func (m *memStore) LatestOTPSession(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().LatestOTPSession(ctx, email, purpose)
}

func (m *memStore) MarkOTPVerified(ctx context.Context, id, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().MarkOTPVerified(ctx, id, userID, at)
}

func (m *memStore) SystemConfig(ctx context.Context) (*models.SystemConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().SystemConfig(ctx)
}

func (m *memStore) ComplaintType(ctx context.Context, name string) (*models.ComplaintType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live().ComplaintType(ctx, name)
}

// memTx implements workflow.Tx over a memState.
type memTx struct {
	st    *memState
	store *memStore
}

func (t *memTx) GetComplaint(_ context.Context, id string) (*models.Complaint, error) {
	c, ok := t.st.complaints[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) GetComplaintBySequence(_ context.Context, code string) (*models.Complaint, error) {
	id, ok := t.st.codes[code]
	if !ok {
		return nil, nil
	}
	cp := *t.st.complaints[id]
	return &cp, nil
}

func (t *memTx) InsertComplaint(_ context.Context, c *models.Complaint) error {
	if _, taken := t.st.codes[c.SequenceCode]; taken {
		return ErrDuplicateSequence
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	cp := *c
	t.st.complaints[c.ID] = &cp
	t.st.codes[c.SequenceCode] = c.ID
	return nil
}

func (t *memTx) UpdateComplaint(_ context.Context, c *models.Complaint) error {
	if _, ok := t.st.complaints[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	t.st.complaints[c.ID] = &cp
	return nil
}

func (t *memTx) SequenceCodes(_ context.Context, prefix string) ([]string, error) {
	if t.store != nil && t.store.seqCodesFn != nil {
		return t.store.seqCodesFn(prefix)
	}
	var out []string
	for code := range t.st.codes {
		if len(code) >= len(prefix) && code[:len(prefix)] == prefix {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *memTx) AppendStatusLog(_ context.Context, e *models.StatusLogEntry) error {
	e.ID = uuid.New().String()
	t.st.logs = append(t.st.logs, *e)
	return nil
}

func (t *memTx) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (t *memTx) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range t.st.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateUser(_ context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	cp := *u
	t.st.users[u.ID] = &cp
	return nil
}

func (t *memTx) AssignableStaff(_ context.Context, wardID, role string) ([]StaffLoad, error) {
	var out []StaffLoad
	for _, u := range t.st.users {
		if !u.Active || u.Role != role || u.WardID == nil || *u.WardID != wardID {
			continue
		}
		load := 0
		for _, c := range t.st.complaints {
			if c.Status.Terminal() {
				continue
			}
			if (c.WardOfficerID != nil && *c.WardOfficerID == u.ID) ||
				(c.MaintenanceTeamID != nil && *c.MaintenanceTeamID == u.ID) {
				load++
			}
		}
		out = append(out, StaffLoad{UserID: u.ID, Email: u.Email, OpenCount: load, CreatedAt: u.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenCount != out[j].OpenCount {
			return out[i].OpenCount < out[j].OpenCount
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *memTx) InvalidateOTPSessions(_ context.Context, email string, purpose models.OTPPurpose, asOf time.Time) error {
	for _, s := range t.st.sessions {
		if s.Email == email && s.Purpose == purpose && !s.Verified && s.ExpiresAt.After(asOf) {
			s.ExpiresAt = asOf.Add(-time.Second)
		}
	}
	return nil
}

func (t *memTx) InsertOTPSession(_ context.Context, s *models.OTPSession) error {
	s.ID = uuid.New().String()
	cp := *s
	t.st.sessions = append(t.st.sessions, &cp)
	return nil
}

func (t *memTx) LatestOTPSession(_ context.Context, email string, purpose models.OTPPurpose) (*models.OTPSession, error) {
	var latest *models.OTPSession
	for _, s := range t.st.sessions {
		if s.Email != email || s.Purpose != purpose {
			continue
		}
		if latest == nil || !s.CreatedAt.Before(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (t *memTx) MarkOTPVerified(_ context.Context, id, userID string, at time.Time) error {
	for _, s := range t.st.sessions {
		if s.ID == id && !s.Verified {
			s.Verified = true
			v := at
			s.VerifiedAt = &v
			uid := userID
			s.BoundUserID = &uid
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) SystemConfig(_ context.Context) (*models.SystemConfig, error) {
	cfg := t.st.cfg
	return &cfg, nil
}

func (t *memTx) ComplaintType(_ context.Context, name string) (*models.ComplaintType, error) {
	typ, ok := t.st.types[name]
	if !ok {
		return nil, nil
	}
	cp := *typ
	return &cp, nil
}

// fakeDispatcher records sends and can be told to fail specific kinds.
type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []fakeSend
	fail  map[notify.Kind]bool
	codes []string // captured OTP codes, in order
}

type fakeSend struct {
	Recipient string
	Kind      notify.Kind
	Payload   map[string]string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{fail: map[notify.Kind]bool{}}
}

func (d *fakeDispatcher) Send(_ context.Context, recipient string, kind notify.Kind, payload map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[kind] {
		return errors.New("dispatch failed")
	}
	d.sent = append(d.sent, fakeSend{Recipient: recipient, Kind: kind, Payload: payload})
	if kind == notify.KindOTPCode {
		d.codes = append(d.codes, payload["code"])
	}
	return nil
}

func (d *fakeDispatcher) lastCode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.codes) == 0 {
		return ""
	}
	return d.codes[len(d.codes)-1]
}

func (d *fakeDispatcher) kinds() []notify.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notify.Kind
	for _, s := range d.sent {
		out = append(out, s.Kind)
	}
	return out
}

type fakeCaptcha struct{ reject bool }

func (f *fakeCaptcha) Verify(context.Context, string, string) error {
	if f.reject {
		return errors.New("captcha answer incorrect")
	}
	return nil
}
