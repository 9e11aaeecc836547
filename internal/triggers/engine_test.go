package triggers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/internal/queue"
	"github.com/gregolima/zeca/pkg/models"
)

type fakeStore struct {
	mu         sync.Mutex
	triggers   []*models.Trigger
	listErr    error
	listCalls  int
	increments []int64
}

func (f *fakeStore) ListTriggers(ctx context.Context) ([]*models.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.triggers, nil
}

func (f *fakeStore) IncrementTriggerUse(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments = append(f.increments, id)
	for _, t := range f.triggers {
		if t.ID == id {
			t.TriggeredCount++
		}
	}
	return nil
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	reqs []*models.SendRequest
	opts []queue.Options
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, req *models.SendRequest, opts queue.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	f.opts = append(f.opts, opts)
	return nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func engineConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.App.DefaultGroup = "group@g.us"
	cfg.App.App.AllowedGroup = "group@g.us"
	cfg.App.App.CommandPrefix = "!"
	cfg.App.Triggers.CacheTTLSeconds = 30
	return cfg
}

func newTestEngine(store *fakeStore, enq *fakeEnqueuer) *Engine {
	e := NewEngine(store, enq, engineConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.roll = func() float64 { return 0 }
	return e
}

func basicTrigger(id int64, phrase string) *models.Trigger {
	return &models.Trigger{
		ID:            id,
		Name:          phrase,
		Phrases:       []string{phrase},
		MatchType:     models.MatchContains,
		ResponseType:  models.KindText,
		ResponseText:  "resposta " + phrase,
		ChancePercent: 100,
		Active:        true,
	}
}

func groupMessage(id, body string) *models.IncomingMessage {
	return &models.IncomingMessage{
		ID:      id,
		From:    "group@g.us",
		Author:  "5511999990000@c.us",
		Body:    body,
		IsGroup: true,
	}
}

func waitForIncrements(t *testing.T, store *fakeStore, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := len(store.increments)
		store.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d use-counter increments", want)
}

func TestProcessFirstMatchWins(t *testing.T) {
	store := &fakeStore{triggers: []*models.Trigger{
		basicTrigger(1, "bom dia"),
		basicTrigger(2, "dia"),
	}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)

	e.Process(context.Background(), groupMessage("m1", "bom dia pessoal"))

	require.Equal(t, 1, enq.count(), "only the first matching rule fires")
	assert.Equal(t, "resposta bom dia", enq.reqs[0].Content)
	assert.Equal(t, "m1-1", enq.opts[0].IdempotencyKey)
	waitForIncrements(t, store, 1)
	assert.Equal(t, []int64{1}, store.increments)
}

func TestProcessNonAllowedConversation(t *testing.T) {
	store := &fakeStore{triggers: []*models.Trigger{basicTrigger(1, "oi")}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)

	msg := groupMessage("m1", "oi")
	msg.From = "other@g.us"
	e.Process(context.Background(), msg)

	assert.Zero(t, enq.count())
	assert.Zero(t, store.listCalls, "rules are not even loaded for foreign conversations")
}

func TestProcessSkipsCommands(t *testing.T) {
	store := &fakeStore{triggers: []*models.Trigger{basicTrigger(1, "analise")}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)

	e.Process(context.Background(), groupMessage("m1", "!analise 5"))

	assert.Zero(t, enq.count())
}

func TestProcessChanceGate(t *testing.T) {
	rule := basicTrigger(1, "oi")
	rule.ChancePercent = 0
	store := &fakeStore{triggers: []*models.Trigger{rule}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)
	e.roll = func() float64 { return 0.0001 }

	for i := 0; i < 1000; i++ {
		e.Process(context.Background(), groupMessage("m", "oi"))
	}

	assert.Zero(t, enq.count(), "a zero-chance rule never fires")
}

func TestProcessChanceFullSkipsRoll(t *testing.T) {
	store := &fakeStore{triggers: []*models.Trigger{basicTrigger(1, "oi")}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)
	e.roll = func() float64 {
		t.Fatal("roll must not be consulted at 100% chance")
		return 0
	}

	e.Process(context.Background(), groupMessage("m1", "oi"))

	assert.Equal(t, 1, enq.count())
}

func TestProcessMaxUses(t *testing.T) {
	one := 1
	rule := basicTrigger(1, "oi")
	rule.MaxUses = &one
	store := &fakeStore{triggers: []*models.Trigger{rule}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)

	e.Process(context.Background(), groupMessage("m1", "oi"))
	require.Equal(t, 1, enq.count())
	waitForIncrements(t, store, 1)

	// The fire invalidated the cache, so the updated counter is visible
	e.Process(context.Background(), groupMessage("m2", "oi"))
	assert.Equal(t, 1, enq.count(), "an exhausted rule stays silent")
}

func TestProcessRuleCooldown(t *testing.T) {
	rule := basicTrigger(1, "oi")
	rule.CooldownSeconds = 60
	store := &fakeStore{triggers: []*models.Trigger{rule}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)

	base := time.Now()
	e.now = func() time.Time { return base }
	e.Process(context.Background(), groupMessage("m1", "oi"))
	e.Process(context.Background(), groupMessage("m2", "oi"))
	require.Equal(t, 1, enq.count())

	e.now = func() time.Time { return base.Add(61 * time.Second) }
	e.Process(context.Background(), groupMessage("m3", "oi"))
	assert.Equal(t, 2, enq.count())
}

func TestProcessPerUserCooldown(t *testing.T) {
	rule := basicTrigger(1, "oi")
	rule.CooldownPerUserSeconds = 60
	store := &fakeStore{triggers: []*models.Trigger{rule}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)

	first := groupMessage("m1", "oi")
	second := groupMessage("m2", "oi")
	second.Author = "5511888880000@c.us"

	e.Process(context.Background(), first)
	e.Process(context.Background(), second)

	assert.Equal(t, 2, enq.count(), "distinct senders have independent windows")

	e.Process(context.Background(), groupMessage("m3", "oi"))
	assert.Equal(t, 2, enq.count(), "the first sender is still inside the window")
}

func TestProcessAllowedUsers(t *testing.T) {
	rule := basicTrigger(1, "oi")
	rule.AllowedUsers = []string{"5511999990000"}
	store := &fakeStore{triggers: []*models.Trigger{rule}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)

	// Normalized form of the sender matches the allow-list entry
	e.Process(context.Background(), groupMessage("m1", "oi"))
	require.Equal(t, 1, enq.count())

	blocked := groupMessage("m2", "oi")
	blocked.Author = "5511777770000@c.us"
	e.Process(context.Background(), blocked)
	assert.Equal(t, 1, enq.count())
}

func TestProcessStoreErrorFallsBackToCache(t *testing.T) {
	store := &fakeStore{triggers: []*models.Trigger{basicTrigger(1, "oi")}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)

	base := time.Now()
	e.now = func() time.Time { return base }
	e.Process(context.Background(), groupMessage("m1", "oi"))
	require.Equal(t, 1, enq.count())

	// Expire the cache and break the store; the stale snapshot still serves
	store.mu.Lock()
	store.listErr = errors.New("db down")
	store.mu.Unlock()
	e.now = func() time.Time { return base.Add(time.Minute) }

	e.Process(context.Background(), groupMessage("m2", "oi"))
	assert.Equal(t, 2, enq.count())
}

func TestProcessEnqueueFailureKeepsState(t *testing.T) {
	rule := basicTrigger(1, "oi")
	rule.CooldownSeconds = 60
	store := &fakeStore{triggers: []*models.Trigger{rule}}
	enq := &fakeEnqueuer{err: errors.New("queue down")}
	e := newTestEngine(store, enq)

	e.Process(context.Background(), groupMessage("m1", "oi"))

	assert.Empty(t, store.increments, "a failed enqueue must not consume a use")

	// Queue recovers; the rule is not on cooldown from the failed attempt
	enq.mu.Lock()
	enq.err = nil
	enq.mu.Unlock()
	e.Process(context.Background(), groupMessage("m2", "oi"))
	assert.Equal(t, 1, enq.count())
}

func TestProcessMediaResponse(t *testing.T) {
	rule := basicTrigger(1, "foto")
	rule.ResponseType = models.KindImage
	rule.ResponseMediaURL = "media/zeca.png"
	rule.ResponseText = "olha isso"
	rule.ReplyMode = models.ReplyModeReply
	rule.MentionSender = true
	store := &fakeStore{triggers: []*models.Trigger{rule}}
	enq := &fakeEnqueuer{}
	e := newTestEngine(store, enq)
	e.cfg.App.App.PublicBaseURL = "https://cdn.example.com/"

	e.Process(context.Background(), groupMessage("m1", "manda a foto"))

	require.Equal(t, 1, enq.count())
	req := enq.reqs[0]
	assert.Equal(t, models.KindImage, req.Type)
	assert.Equal(t, "https://cdn.example.com/media/zeca.png", req.Content)
	assert.Equal(t, "olha isso", req.Caption)
	assert.Equal(t, "m1", req.ReplyTo)
	assert.Equal(t, []string{"5511999990000@c.us"}, req.Mentions)
}
