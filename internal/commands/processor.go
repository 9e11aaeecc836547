package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/internal/queue"
	"github.com/gregolima/zeca/internal/textutil"
	"github.com/gregolima/zeca/pkg/models"
)

// selfCooldownKey is the sentinel identity under which the bot's own
// messages share one analysis cooldown slot.
const selfCooldownKey = "bot-self"

// transcriptCap bounds each stored transcript line of an audit record.
const transcriptCap = 1000

// Enqueuer submits outgoing-message requests to the send queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *models.SendRequest, opts queue.Options) error
}

// Generator produces an AI analysis of a recent-message window. An empty
// result with a nil error means the model declined; it is never an error.
type Generator interface {
	Analyze(ctx context.Context, msgs []models.RecentMessage) (string, error)
}

// AuditStore persists analysis audit records.
type AuditStore interface {
	SaveAnalysisLog(ctx context.Context, entry *models.AnalysisLog) error
}

// Processor parses administrative text commands from the allow-listed
// conversation and replies through the send queue.
type Processor struct {
	enqueuer  Enqueuer
	generator Generator
	audit     AuditStore
	cfg       *config.Config
	logger    *slog.Logger

	mu           sync.Mutex
	lastAnalyses map[string]time.Time
	lastAll      time.Time

	now func() time.Time
}

// NewProcessor creates a new command processor.
func NewProcessor(enqueuer Enqueuer, generator Generator, audit AuditStore, cfg *config.Config, logger *slog.Logger) *Processor {
	return &Processor{
		enqueuer:     enqueuer,
		generator:    generator,
		audit:        audit,
		cfg:          cfg,
		logger:       logger.WithGroup("commands.processor"),
		lastAnalyses: make(map[string]time.Time),
		now:          time.Now,
	}
}

type command struct {
	name string
	n    int
}

// parse matches the folded message body against the command grammar.
func (p *Processor) parse(body string) *command {
	folded := textutil.Fold(body)

	if folded == "!all" || folded == "!everyone" {
		return &command{name: "all"}
	}

	if strings.HasPrefix(folded, "!analise") {
		n := p.cfg.App.Limits.AnalyseDefault
		parts := strings.Fields(folded)
		if len(parts) >= 2 {
			if parsed, err := strconv.Atoi(parts[1]); err == nil {
				n = parsed
			}
		}
		return &command{name: "analise", n: n}
	}

	return nil
}

// Process handles one incoming message. Errors are contained and logged;
// the caller's pipeline never fails on a command.
func (p *Processor) Process(ctx context.Context, msg *models.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "Command processing panicked", slog.Any("panic", r))
		}
	}()

	if strings.TrimSpace(msg.Body) == "" {
		return
	}
	if msg.From != p.cfg.App.App.AllowedGroup {
		p.logger.DebugContext(ctx, "Command from non-allowed conversation ignored",
			slog.String("from", msg.From),
		)
		return
	}

	cmd := p.parse(msg.Body)
	if cmd == nil {
		return
	}

	switch cmd.name {
	case "all":
		p.handleAll(ctx, msg)
	case "analise":
		p.handleAnalise(ctx, msg, cmd.n)
	}
}

// handleAll answers the broadcast-mention command: a mention-all payload
// built from the group's participant list, guarded by one global cooldown.
func (p *Processor) handleAll(ctx context.Context, msg *models.IncomingMessage) {
	if !msg.IsGroup {
		p.reply(ctx, msg, "Isso só funciona em grupos, parceiro.")
		return
	}

	window := time.Duration(p.cfg.App.Cooldowns.MentionAllSeconds) * time.Second
	now := p.now()

	p.mu.Lock()
	elapsed := now.Sub(p.lastAll)
	blocked := !p.lastAll.IsZero() && elapsed < window
	p.mu.Unlock()

	if blocked {
		wait := int((window - elapsed + time.Second - 1) / time.Second)
		p.reply(ctx, msg, fmt.Sprintf("Já teve um ping recentemente. Aguenta mais %d segundos.", wait))
		return
	}

	participants := msg.Participants
	if len(participants) == 0 {
		p.reply(ctx, msg, "Não consegui obter a lista de participantes.")
		return
	}
	if len(participants) > p.cfg.App.Limits.MaxMentions {
		p.reply(ctx, msg, fmt.Sprintf("Esse grupo é gigante (%d membros). Não vou pingar todo mundo.", len(participants)))
		return
	}

	err := p.enqueuer.Enqueue(ctx, &models.SendRequest{
		GroupID:  msg.From,
		Type:     models.KindText,
		Content:  "@everyone",
		Mentions: participants,
	}, queue.Options{})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to enqueue mention-all", slog.Any("error", err),
			slog.String("chat_id", msg.From),
		)
		return
	}

	p.mu.Lock()
	p.lastAll = now
	p.mu.Unlock()
}

// handleAnalise answers the bounded AI-analysis command.
func (p *Processor) handleAnalise(ctx context.Context, msg *models.IncomingMessage, n int) {
	if n > p.cfg.App.Limits.AnalyseMax {
		p.reply(ctx, msg, fmt.Sprintf("Tu acha que essa porcaria de IA é de graça? Limite máximo: %d mensagens.", p.cfg.App.Limits.AnalyseMax))
		return
	}
	if n <= 0 {
		p.reply(ctx, msg, fmt.Sprintf("Número inválido. Use !analise ou !analise <n> onde n entre 1 e %d.", p.cfg.App.Limits.AnalyseMax))
		return
	}

	userID := cooldownIdentity(msg)
	if wait, blocked := p.analyseCooldown(userID); blocked {
		p.reply(ctx, msg, fmt.Sprintf("Aguenta aí, parceiro. Espera mais %d segundos antes de pedir outra análise.", wait))
		return
	}

	window := wellFormed(msg.RecentMessages)
	if len(window) > n {
		window = window[len(window)-n:]
	}
	if len(window) == 0 {
		p.reply(ctx, msg, "Não há mensagens suficientes para analisar.")
		return
	}

	start := p.now()
	analysis, err := p.generator.Analyze(ctx, window)
	if err != nil {
		p.logger.ErrorContext(ctx, "AI analysis failed", slog.Any("error", err),
			slog.String("chat_id", msg.From),
			slog.Int("requested_n", n),
		)
	}

	if analysis == "" {
		p.reply(ctx, msg, "Hmmm... a IA não colaborou dessa vez.")
		return
	}

	p.saveAuditAsync(userID, msg.From, n, window, analysis, p.now().Sub(start))

	p.reply(ctx, msg, truncate(analysis, p.cfg.App.Limits.MaxMessageLength))
}

// analyseCooldown checks and, when clear, stamps the per-user window. The
// stamp is taken up front: a later generation failure does not refund it.
func (p *Processor) analyseCooldown(userID string) (int, bool) {
	window := time.Duration(p.cfg.App.Cooldowns.AnalyseSeconds) * time.Second
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastAnalyses[userID]; ok {
		if elapsed := now.Sub(last); elapsed < window {
			return int((window - elapsed + time.Second - 1) / time.Second), true
		}
	}
	p.lastAnalyses[userID] = now
	return 0, false
}

// saveAuditAsync persists the audit record off the critical path. Failures
// are logged, never surfaced.
func (p *Processor) saveAuditAsync(userID, chatID string, requested int, window []models.RecentMessage, result string, took time.Duration) {
	entries := make([]models.AnalysisEntry, 0, len(window))
	for i, m := range window {
		sender := m.SenderName
		if sender == "" {
			sender = m.Author
		}
		if sender == "" {
			sender = "desconhecido"
		}
		entries = append(entries, models.AnalysisEntry{
			Idx:    i + 1,
			Sender: sender,
			Text:   truncate(m.Body, transcriptCap),
		})
	}

	entry := &models.AnalysisLog{
		UserID:        userID,
		ChatID:        chatID,
		RequestedN:    requested,
		AnalyzedCount: len(window),
		Messages:      entries,
		Result:        result,
		DurationMs:    took.Milliseconds(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := p.audit.SaveAnalysisLog(ctx, entry); err != nil {
			p.logger.Error("Failed to save analysis log", slog.Any("error", err),
				slog.String("chat_id", chatID),
			)
		}
	}()
}

func (p *Processor) reply(ctx context.Context, msg *models.IncomingMessage, text string) {
	err := p.enqueuer.Enqueue(ctx, &models.SendRequest{
		GroupID: msg.From,
		Type:    models.KindText,
		Content: text,
		ReplyTo: msg.ID,
	}, queue.Options{})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to enqueue command reply", slog.Any("error", err),
			slog.String("chat_id", msg.From),
		)
	}
}

// cooldownIdentity resolves the sender key for the analysis cooldown; the
// bot's own messages collapse onto one sentinel identity.
func cooldownIdentity(msg *models.IncomingMessage) string {
	if msg.FromMe {
		return selfCooldownKey
	}
	if msg.Author != "" {
		return msg.Author
	}
	return msg.From
}

// wellFormed filters the recent-message window to plain chat entries with a
// non-empty body.
func wellFormed(msgs []models.RecentMessage) []models.RecentMessage {
	out := make([]models.RecentMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Body != "" && m.Type == "chat" {
			out = append(out, m)
		}
	}
	return out
}

// truncate caps a string at max runes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
