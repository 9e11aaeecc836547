package triggers

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/internal/queue"
	"github.com/gregolima/zeca/pkg/models"
)

// Store is the subset of the repository the engine reads and mutates.
type Store interface {
	ListTriggers(ctx context.Context) ([]*models.Trigger, error)
	IncrementTriggerUse(ctx context.Context, id int64) error
}

// Enqueuer submits outgoing-message requests to the send queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *models.SendRequest, opts queue.Options) error
}

// Engine evaluates incoming messages against the trigger rules and fires at
// most one rule per message, first match wins.
type Engine struct {
	store     Store
	enqueuer  Enqueuer
	cfg       *config.Config
	logger    *slog.Logger
	cache     ruleCache
	cooldowns *cooldownTable
	cacheTTL  time.Duration

	// Injectable for tests.
	now  func() time.Time
	roll func() float64
}

// NewEngine creates a new trigger matching engine.
func NewEngine(store Store, enqueuer Enqueuer, cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		enqueuer:  enqueuer,
		cfg:       cfg,
		logger:    logger.WithGroup("triggers.engine"),
		cooldowns: newCooldownTable(),
		cacheTTL:  time.Duration(cfg.App.Triggers.CacheTTLSeconds) * time.Second,
		now:       time.Now,
		roll:      func() float64 { return rand.Float64() * 100 },
	}
}

// Process evaluates one incoming message. It never returns an error and
// never panics outward: any failure is logged and contained so the caller's
// pipeline keeps running.
func (e *Engine) Process(ctx context.Context, msg *models.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "Trigger evaluation panicked", slog.Any("panic", r))
		}
	}()

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return
	}
	if msg.From != e.cfg.App.App.AllowedGroup {
		return
	}
	if strings.HasPrefix(body, e.cfg.App.App.CommandPrefix) {
		return
	}

	rules := e.loadTriggers(ctx, false)
	if len(rules) == 0 {
		return
	}

	now := e.now()
	senderID := msg.Author
	if senderID == "" {
		senderID = msg.From
	}
	senderNorm := normalizeUserID(senderID)

	for _, rule := range rules {
		if !rule.Eligible(now) {
			continue
		}
		if !senderAllowed(rule, senderID, senderNorm) {
			continue
		}
		if !matches(rule, msg.Body) {
			continue
		}

		// Probability gating happens only on an otherwise-matched rule.
		if rule.ChancePercent < 100 {
			if e.roll() > float64(rule.ChancePercent) {
				continue
			}
		}

		if e.cooldowns.blocked(rule, senderID, now) {
			continue
		}

		req := e.buildResponse(rule, msg)
		key := msg.ID + "-" + strconv.FormatInt(rule.ID, 10)

		if err := e.enqueuer.Enqueue(ctx, req, queue.Options{IdempotencyKey: key}); err != nil {
			e.logger.ErrorContext(ctx, "Failed to enqueue trigger response", slog.Any("error", err),
				slog.Int64("trigger_id", rule.ID),
				slog.String("message_id", msg.ID),
			)
			continue
		}

		e.cooldowns.record(rule.ID, senderID, now)
		e.incrementUseAsync(rule.ID)
		e.cache.invalidate()

		e.logger.InfoContext(ctx, "Trigger fired",
			slog.Int64("trigger_id", rule.ID),
			slog.String("trigger_name", rule.Name),
			slog.String("message_id", msg.ID),
		)
		break
	}
}

// Invalidate drops the rule cache so the next evaluation re-reads the store.
func (e *Engine) Invalidate() {
	e.cache.invalidate()
}

// loadTriggers returns the cached rule snapshot, refreshing it when stale.
// A failed refresh falls back to the previous snapshot.
func (e *Engine) loadTriggers(ctx context.Context, force bool) []*models.Trigger {
	now := e.now()
	items, fresh := e.cache.get(now, e.cacheTTL)
	if fresh && !force {
		return items
	}

	list, err := e.store.ListTriggers(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load triggers", slog.Any("error", err))
		return items
	}

	e.cache.set(list, now)
	return list
}

// senderAllowed enforces the rule's allow-list: an unresolvable sender or
// one absent from the list (raw or normalized form) cannot fire the rule.
func senderAllowed(rule *models.Trigger, senderID, senderNorm string) bool {
	if len(rule.AllowedUsers) == 0 {
		return true
	}
	if senderID == "" {
		return false
	}
	for _, u := range rule.AllowedUsers {
		if u == senderID || normalizeUserID(u) == senderNorm {
			return true
		}
	}
	return false
}

// normalizeUserID strips any suffix after the '@' separator.
func normalizeUserID(id string) string {
	if id == "" {
		return ""
	}
	base, _, _ := strings.Cut(id, "@")
	return base
}

func (e *Engine) buildResponse(rule *models.Trigger, msg *models.IncomingMessage) *models.SendRequest {
	req := &models.SendRequest{
		GroupID: msg.From,
		Type:    rule.ResponseType,
	}

	if rule.ResponseType == models.KindText {
		req.Content = rule.ResponseText
		if req.Content == "" {
			req.Content = "(sem texto configurado)"
		}
	} else {
		req.Content = rewriteMediaURL(rule.ResponseMediaURL, e.cfg.App.App.PublicBaseURL)
		req.Caption = rule.ResponseText
	}

	if rule.ReplyMode == models.ReplyModeReply {
		req.ReplyTo = msg.ID
	}
	if rule.MentionSender && msg.Author != "" {
		req.Mentions = []string{msg.Author}
	}

	return req
}

// rewriteMediaURL turns a stored relative media reference into an absolute
// delivery URL when a public base URL is configured.
func rewriteMediaURL(url, base string) string {
	if url == "" || strings.HasPrefix(url, "http") || base == "" {
		return url
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(url, "/")
}

// incrementUseAsync bumps the persisted use counter off the critical path.
// A persistence failure is logged and swallowed.
func (e *Engine) incrementUseAsync(id int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.store.IncrementTriggerUse(ctx, id); err != nil {
			e.logger.Error("Failed to increment trigger use counter", slog.Any("error", err),
				slog.Int64("trigger_id", id),
			)
		}
	}()
}
