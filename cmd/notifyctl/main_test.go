package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/broker"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/notifications"
)

type memDeadLetters struct {
	letters map[int64]*notifications.DeadLetter
	deleted []int64
}

func (m *memDeadLetters) Add(_ context.Context, dl *notifications.DeadLetter) error {
	dl.ID = int64(len(m.letters) + 1)
	m.letters[dl.ID] = dl
	return nil
}

func (m *memDeadLetters) List(_ context.Context, limit int) ([]notifications.DeadLetter, error) {
	var out []notifications.DeadLetter
	for _, dl := range m.letters {
		if len(out) == limit {
			break
		}
		out = append(out, *dl)
	}
	return out, nil
}

func (m *memDeadLetters) Get(_ context.Context, id int64) (*notifications.DeadLetter, error) {
	dl, ok := m.letters[id]
	if !ok {
		return nil, notifications.ErrDeadLetterNotFound
	}
	return dl, nil
}

func (m *memDeadLetters) Delete(_ context.Context, id int64) error {
	if _, ok := m.letters[id]; !ok {
		return notifications.ErrDeadLetterNotFound
	}
	delete(m.letters, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func connectedMemory(t *testing.T) *broker.MemoryBroker {
	t.Helper()
	b := broker.NewMemoryBroker(events.Bindings)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRunClassify(t *testing.T) {
	var out bytes.Buffer
	err := runClassify(&out, "user.friendRequested", []byte(`{"requesteeId":"u-2","requesterName":"Ann"}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(out.String(), "type=friend.request") || !strings.Contains(out.String(), "u-2") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRunClassify_Unrecognized(t *testing.T) {
	var out bytes.Buffer
	if err := runClassify(&out, "post.liked", []byte(`{"foo":"bar"}`)); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.HasPrefix(out.String(), "unrecognized") {
		t.Errorf("expected unrecognized, got %q", out.String())
	}
}

func TestRunClassify_UnboundKey(t *testing.T) {
	var out bytes.Buffer
	if err := runClassify(&out, "billing.charged", []byte(`{"userId":"u-1"}`)); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(out.String(), "not bound") {
		t.Errorf("expected a binding warning, got %q", out.String())
	}
}

func TestRunClassify_Malformed(t *testing.T) {
	var out bytes.Buffer
	if err := runClassify(&out, "post.liked", []byte(`not json`)); err == nil {
		t.Fatal("expected an error for a malformed body")
	}
}

func TestListDeadLetters(t *testing.T) {
	store := &memDeadLetters{letters: map[int64]*notifications.DeadLetter{}}
	var out bytes.Buffer
	if err := listDeadLetters(context.Background(), &out, store, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "No dead letters") {
		t.Errorf("unexpected output %q", out.String())
	}

	store.Add(context.Background(), &notifications.DeadLetter{RoutingKey: "post.liked", Error: "db down", Attempts: 5})
	out.Reset()
	if err := listDeadLetters(context.Background(), &out, store, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "post.liked") || !strings.Contains(out.String(), "db down") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestReplayDeadLetter(t *testing.T) {
	b := connectedMemory(t)
	store := &memDeadLetters{letters: map[int64]*notifications.DeadLetter{}}
	store.Add(context.Background(), &notifications.DeadLetter{
		EventID:    "evt-1",
		RoutingKey: "post.liked",
		Body:       []byte(`{"likedUserId":"u-1","likerName":"Bo","postId":"p-1"}`),
	})

	var out bytes.Buffer
	if err := replayDeadLetter(context.Background(), &out, store, broker.NewPublisher(b, 0), 1); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 queued envelope, got %d", b.Len())
	}
	if len(store.deleted) != 1 || store.deleted[0] != 1 {
		t.Errorf("dead letter should be removed after replay, deleted=%v", store.deleted)
	}
	if !strings.Contains(out.String(), "id=evt-1") {
		t.Errorf("replay should keep the original event id, got %q", out.String())
	}
}

func TestReplayDeadLetter_NotPublishedKeepsEntry(t *testing.T) {
	b := connectedMemory(t)
	b.Disconnect()
	store := &memDeadLetters{letters: map[int64]*notifications.DeadLetter{}}
	store.Add(context.Background(), &notifications.DeadLetter{RoutingKey: "post.liked", Body: []byte(`{}`)})

	err := replayDeadLetter(context.Background(), &bytes.Buffer{}, store, broker.NewPublisher(b, 0), 1)
	if !errors.Is(err, errNotPublished) {
		t.Fatalf("expected errNotPublished, got %v", err)
	}
	if len(store.deleted) != 0 {
		t.Error("entry must survive a failed replay")
	}
}

func TestReplayDeadLetter_Unknown(t *testing.T) {
	b := connectedMemory(t)
	store := &memDeadLetters{letters: map[int64]*notifications.DeadLetter{}}
	err := replayDeadLetter(context.Background(), &bytes.Buffer{}, store, broker.NewPublisher(b, 0), 42)
	if !errors.Is(err, notifications.ErrDeadLetterNotFound) {
		t.Fatalf("expected ErrDeadLetterNotFound, got %v", err)
	}
}

func TestTokenCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "u-1", "--secret", "s3cret"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Count(strings.TrimSpace(out.String()), ".") != 2 {
		t.Errorf("expected a JWT, got %q", out.String())
	}
}

func TestClassifyRulesFlag(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"classify", "--rules"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.Count(out.String(), "\n"); got != len(notifications.RuleNames()) {
		t.Errorf("expected %d rules, got output:\n%s", len(notifications.RuleNames()), out.String())
	}
}

func TestReplayEnvelope(t *testing.T) {
	env, err := replayEnvelope(&notifications.DeadLetter{
		ID:         9,
		EventID:    "evt-1",
		RoutingKey: "post.liked",
		Body:       []byte(`{"likedUserId":"u-1"}`),
	})
	if err != nil {
		t.Fatalf("replay envelope: %v", err)
	}
	if env.ID != "evt-1" {
		t.Errorf("event id should survive the replay, got %q", env.ID)
	}
	if env.DedupID() == env.ID || env.DedupID() != "evt-1:replay:9" {
		t.Errorf("replay needs its own transport id, got %q", env.DedupID())
	}

	// Without a recorded event id a fresh one is minted.
	env, err = replayEnvelope(&notifications.DeadLetter{ID: 3, RoutingKey: "post.liked", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("replay envelope: %v", err)
	}
	if env.ID == "" || env.DedupID() != env.ID+":replay:3" {
		t.Errorf("unexpected ids %q / %q", env.ID, env.DedupID())
	}
}
