package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
)

var errDuplicate = errors.New("duplicate id")

func clone[T any](v T) T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}

// TicketStore is an in-memory TicketRepository with compare-and-swap status
// updates.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]models.Ticket

	// BeforeTransition runs inside Transition before the status check, with
	// the store unlocked.
	BeforeTransition func(id string)
	// TransitionErr, when set, is returned by every Transition call.
	TransitionErr error
}

func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[string]models.Ticket)}
}

// Put stores t as is, replacing any ticket with the same id.
func (s *TicketStore) Put(t models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = clone(t)
}

func (s *TicketStore) Create(ctx context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return errDuplicate
	}
	t.Version = 1
	s.tickets[t.ID] = clone(*t)
	return nil
}

func (s *TicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(t)
	return &out, nil
}

func (s *TicketStore) List(ctx context.Context, f repository.TicketFilter) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Ticket{}
	for _, t := range s.tickets {
		if f.DomainID != "" && t.DomainID != f.DomainID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *TicketStore) Transition(ctx context.Context, t *models.Ticket, from models.ReviewStatus, entry *models.HistoryEntry) error {
	if s.BeforeTransition != nil {
		s.BeforeTransition(t.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TransitionErr != nil {
		return s.TransitionErr
	}
	cur, ok := s.tickets[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Status != from {
		return repository.ErrStaleStatus
	}
	entry.Seq = int64(len(cur.History) + 1)
	t.Version = cur.Version + 1

	stored := clone(*t)
	stored.History = append(cur.History, clone(*entry))
	s.tickets[t.ID] = stored
	return nil
}

// Status returns the stored status of a ticket.
func (s *TicketStore) Status(id string) models.ReviewStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[id].Status
}

// AuditStore is an in-memory AuditRepository holding a single hash chain.
type AuditStore struct {
	mu      sync.Mutex
	entries []models.AuditEntry

	AppendErr error
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(ctx context.Context, e *models.AuditEntry, seal func(*models.AuditEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	e.Seq = int64(len(s.entries) + 1)
	e.Integrity.PrevHash = ""
	if n := len(s.entries); n > 0 {
		e.Integrity.PrevHash = s.entries[n-1].Integrity.Hash
	}
	if err := seal(e); err != nil {
		return err
	}
	s.entries = append(s.entries, clone(*e))
	return nil
}

func (s *AuditStore) Get(ctx context.Context, id string) (*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			out := clone(e)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *AuditStore) Trail(ctx context.Context, subjectType, subjectID string, limit int) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.AuditEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Subject.Type != subjectType || e.Subject.ID != subjectID {
			continue
		}
		out = append(out, clone(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Entries returns every stored entry in append order.
func (s *AuditStore) Entries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.entries)
}

// Tamper edits a stored entry in place, bypassing the append-only contract.
func (s *AuditStore) Tamper(id string, edit func(e *models.AuditEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			edit(&s.entries[i])
		}
	}
}

// SpecialistStore is an in-memory SpecialistRepository with atomic counters.
type SpecialistStore struct {
	mu          sync.Mutex
	specialists map[string]models.Specialist
	stats       map[string]models.SpecialistStats
	open        map[string]string // ticket id -> specialist id

	StatsErr error
}

func NewSpecialistStore(specialists ...models.Specialist) *SpecialistStore {
	s := &SpecialistStore{
		specialists: make(map[string]models.Specialist),
		stats:       make(map[string]models.SpecialistStats),
		open:        make(map[string]string),
	}
	for _, sp := range specialists {
		s.specialists[sp.ID] = sp
	}
	return s
}

func (s *SpecialistStore) SetStats(id string, st models.SpecialistStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[id] = st
}

func (s *SpecialistStore) ListByDomain(ctx context.Context, domainID string) ([]models.Specialist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Specialist{}
	for _, sp := range s.specialists {
		if sp.DomainID == domainID {
			out = append(out, clone(sp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *SpecialistStore) Get(ctx context.Context, id string) (*models.Specialist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.specialists[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(sp)
	return &out, nil
}

func (s *SpecialistStore) Stats(ctx context.Context, id string) (*models.SpecialistStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatsErr != nil {
		return nil, s.StatsErr
	}
	st, ok := s.stats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (s *SpecialistStore) Assign(ctx context.Context, specialistID, ticketID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.specialists[specialistID]
	if !ok {
		return repository.ErrNotFound
	}
	sp.CurrentAssignments++
	s.specialists[specialistID] = sp
	s.open[ticketID] = specialistID
	return nil
}

func (s *SpecialistStore) Release(ctx context.Context, specialistID, ticketID string, outcome models.ReviewStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.specialists[specialistID]
	if !ok {
		return repository.ErrNotFound
	}
	if sp.CurrentAssignments > 0 {
		sp.CurrentAssignments--
	}
	s.specialists[specialistID] = sp
	delete(s.open, ticketID)
	return nil
}

// Workload returns the current assignment counter of a specialist.
func (s *SpecialistStore) Workload(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specialists[id].CurrentAssignments
}
