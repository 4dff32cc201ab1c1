package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory Store. failWrites makes the next n writes fail.
type memStore struct {
	mu         sync.Mutex
	rows       []*Notification
	processed  map[string]bool
	seq        int
	failWrites int
	clock      time.Time
}

func newMemStore() *memStore {
	return &memStore{
		processed: make(map[string]bool),
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) insertLocked(n *Notification) {
	normalize(n)
	s.seq++
	s.clock = s.clock.Add(time.Second)
	n.ID = fmt.Sprintf("n-%d", s.seq)
	n.IsRead = false
	n.CreatedAt = s.clock
	cp := *n
	s.rows = append(s.rows, &cp)
}

func (s *memStore) failing() bool {
	if s.failWrites > 0 {
		s.failWrites--
		return true
	}
	return false
}

func (s *memStore) Insert(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return errStoreDown
	}
	s.insertLocked(n)
	return nil
}

func (s *memStore) InsertBatch(_ context.Context, consumer, eventID, _ string, ns []*Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return false, errStoreDown
	}
	key := consumer + "/" + eventID
	if eventID != "" && s.processed[key] {
		return false, nil
	}
	for _, n := range ns {
		s.insertLocked(n)
	}
	if eventID != "" {
		s.processed[key] = true
	}
	return true, nil
}

func (s *memStore) forUser(userID string) []*Notification {
	var out []*Notification
	for _, n := range s.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) List(_ context.Context, p ListParams) ([]Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.forUser(p.UserID)
	page := []Notification{}
	for i := p.Offset; i < len(all) && len(page) < p.Limit; i++ {
		page = append(page, *all[i])
	}
	return page, len(all), nil
}

func (s *memStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.forUser(userID) {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *memStore) MarkRead(_ context.Context, id, userID string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.rows {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			cp := *n
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.rows {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (s *memStore) Delete(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.rows {
		if n.ID == id && n.UserID == userID {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) DeleteAll(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var removed int64
	for _, n := range s.rows {
		if n.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	s.rows = kept
	return removed, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) hasRow(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.rows {
		if n.ID == id {
			return true
		}
	}
	return false
}

func (s *memStore) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.rows))
	for _, n := range s.rows {
		ids = append(ids, n.UserID)
	}
	sort.Strings(ids)
	return ids
}

type pushed struct {
	userID  string
	event   string
	payload PushPayload
	// stored records whether the row existed when the push happened.
	stored bool
}

// fakePusher delivers to the users in online and records every attempt.
type fakePusher struct {
	mu     sync.Mutex
	online map[string]bool
	store  *memStore
	pushes []pushed
}

func newFakePusher(store *memStore, online ...string) *fakePusher {
	p := &fakePusher{online: make(map[string]bool), store: store}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *fakePusher) Push(userID, event string, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, _ := payload.(PushPayload)
	stored := p.store != nil && p.store.hasRow(pp.ID)
	p.pushes = append(p.pushes, pushed{userID: userID, event: event, payload: pp, stored: stored})
	if p.online[userID] {
		return 1
	}
	return 0
}

func (p *fakePusher) all() []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushed(nil), p.pushes...)
}

type fakeDirectory struct {
	chats map[string][]string
	err   error
}

func (d *fakeDirectory) Participants(_ context.Context, chatID string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.chats[chatID], nil
}

type memDeadLetters struct {
	mu      sync.Mutex
	letters []DeadLetter
	err     error
}

func (m *memDeadLetters) Add(_ context.Context, dl *DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	dl.ID = int64(len(m.letters) + 1)
	dl.CreatedAt = time.Now()
	m.letters = append(m.letters, *dl)
	return nil
}

func (m *memDeadLetters) List(_ context.Context, limit int) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.letters) {
		limit = len(m.letters)
	}
	return append([]DeadLetter(nil), m.letters[:limit]...), nil
}

func (m *memDeadLetters) Get(_ context.Context, id int64) (*DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dl := range m.letters {
		if dl.ID == id {
			cp := dl
			return &cp, nil
		}
	}
	return nil, ErrDeadLetterNotFound
}

func (m *memDeadLetters) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, dl := range m.letters {
		if dl.ID == id {
			m.letters = append(m.letters[:i], m.letters[i+1:]...)
			return nil
		}
	}
	return ErrDeadLetterNotFound
}

func (m *memDeadLetters) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.letters)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

var (
	_ Store                = (*memStore)(nil)
	_ Pusher               = (*fakePusher)(nil)
	_ ParticipantDirectory = (*fakeDirectory)(nil)
	_ DeadLetterStore      = (*memDeadLetters)(nil)
)
