package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/internal/gpt"
	"github.com/gregolima/zeca/internal/queue"
	"github.com/gregolima/zeca/pkg/models"
)

// announcerSpec fires the due-event check every minute.
const announcerSpec = "* * * * *"

var weekdaysPT = []string{
	"domingo", "segunda-feira", "terça-feira", "quarta-feira",
	"quinta-feira", "sexta-feira", "sábado",
}

// Store is the repository surface the schedule engine depends on.
type Store interface {
	ListSchedules(ctx context.Context) ([]*models.Schedule, error)
	ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	SetScheduleRegistration(ctx context.Context, id, registrationID int64) error

	RandomPhrase(ctx context.Context) (*models.Phrase, error)
	RandomMediaItem(ctx context.Context) (*models.MediaItem, error)
	DeleteMediaItem(ctx context.Context, id int64) error

	ListEventsInRange(ctx context.Context, from, to time.Time) ([]*models.Event, error)
	NextEventAfter(ctx context.Context, after time.Time) (*models.Event, error)
	ListDueEvents(ctx context.Context, now time.Time) ([]*models.Event, error)
	MarkEventsAnnounced(ctx context.Context, ids []int64) error
	DeleteEvents(ctx context.Context, ids []int64) error
}

// Enqueuer submits outgoing-message requests to the send queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *models.SendRequest, opts queue.Options) error
}

// Generator produces AI captions; an empty caption with a nil error means
// the generator is disabled or declined.
type Generator interface {
	Caption(ctx context.Context, req gpt.CaptionRequest) (string, error)
}

// Registrar is the recurring-job backend, satisfied by *cron.Cron.
type Registrar interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
}

// Engine owns schedule registrations: it mirrors the active rules from the
// store into the cron registrar and builds each firing's payload. The
// registrar is process-local, so Resync at startup rebuilds every
// registration from the persisted rules.
type Engine struct {
	store     Store
	enqueuer  Enqueuer
	generator Generator
	registrar Registrar
	cfg       *config.Config
	logger    *slog.Logger

	now  func() time.Time
	pick func(n int) int
}

// NewEngine creates a new schedule engine.
func NewEngine(store Store, enqueuer Enqueuer, generator Generator, registrar Registrar, cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		enqueuer:  enqueuer,
		generator: generator,
		registrar: registrar,
		cfg:       cfg,
		logger:    logger.WithGroup("schedule.engine"),
		now:       time.Now,
		pick:      rand.Intn,
	}
}

// Start registers the due-event announcer. The caller starts and stops the
// cron runner itself.
func (e *Engine) Start() error {
	if _, err := e.registrar.AddFunc(announcerSpec, e.announceDueEvents); err != nil {
		return fmt.Errorf("failed to register event announcer: %w", err)
	}
	return nil
}

// RegisterRepeat registers the rule with the cron backend and persists the
// returned entry handle. An existing registration is replaced; inactive
// rules are never registered.
func (e *Engine) RegisterRepeat(ctx context.Context, s *models.Schedule) error {
	if !s.Active {
		return nil
	}

	spec, err := buildCronSpec(s)
	if err != nil {
		return err
	}

	if s.RegistrationID != 0 {
		e.registrar.Remove(cron.EntryID(s.RegistrationID))
	}

	id := s.ID
	entry, err := e.registrar.AddFunc(spec, func() { e.fire(id) })
	if err != nil {
		return fmt.Errorf("failed to register schedule %d: %w", s.ID, err)
	}

	if err := e.store.SetScheduleRegistration(ctx, s.ID, int64(entry)); err != nil {
		e.registrar.Remove(entry)
		return fmt.Errorf("failed to persist registration for schedule %d: %w", s.ID, err)
	}

	s.RegistrationID = int64(entry)
	e.logger.InfoContext(ctx, "Schedule registered",
		slog.Int64("schedule_id", s.ID),
		slog.String("name", s.Name),
		slog.String("cron", spec),
	)
	return nil
}

// ClearRepeat removes the rule's registration. A stale or missing handle is
// tolerated; the persisted reference is cleared regardless.
func (e *Engine) ClearRepeat(ctx context.Context, s *models.Schedule) error {
	if s.RegistrationID != 0 {
		e.registrar.Remove(cron.EntryID(s.RegistrationID))
	}
	if err := e.store.SetScheduleRegistration(ctx, s.ID, 0); err != nil {
		return fmt.Errorf("failed to clear registration for schedule %d: %w", s.ID, err)
	}
	s.RegistrationID = 0
	return nil
}

// Resync drops every persisted registration, stale handles included, and
// re-registers all active rules from a fresh read. Per-rule failures are
// logged and skipped so one broken rule cannot block the rest.
func (e *Engine) Resync(ctx context.Context) error {
	all, err := e.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedules for resync: %w", err)
	}

	for _, s := range all {
		if s.RegistrationID == 0 {
			continue
		}
		if err := e.ClearRepeat(ctx, s); err != nil {
			e.logger.ErrorContext(ctx, "Failed to clear schedule registration", slog.Any("error", err),
				slog.Int64("schedule_id", s.ID),
			)
		}
	}

	active, err := e.store.ListActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active schedules for resync: %w", err)
	}

	registered := 0
	for _, s := range active {
		if err := e.RegisterRepeat(ctx, s); err != nil {
			e.logger.ErrorContext(ctx, "Failed to register schedule", slog.Any("error", err),
				slog.Int64("schedule_id", s.ID),
				slog.String("name", s.Name),
			)
			continue
		}
		registered++
	}

	e.logger.InfoContext(ctx, "Schedules resynced",
		slog.Int("total", len(all)),
		slog.Int("registered", registered),
	)
	return nil
}

// fire runs one scheduled send. The rule is reloaded and re-checked at fire
// time, so edits and deactivations between registration and firing win.
func (e *Engine) fire(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "Schedule firing panicked", slog.Any("panic", r),
				slog.Int64("schedule_id", id),
			)
		}
	}()

	s, err := e.store.GetSchedule(ctx, id)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load schedule at fire time", slog.Any("error", err),
			slog.Int64("schedule_id", id),
		)
		return
	}
	if s == nil || !s.Active {
		return
	}

	now := e.now()
	if !s.RunsOn(now, e.cfg.Location) {
		return
	}

	caption := e.buildCaption(ctx, s, now)

	req := &models.SendRequest{
		GroupID: e.cfg.App.App.DefaultGroup,
		Type:    s.Type,
	}
	if s.Type == models.KindText {
		req.Content = s.TextContent
		if caption != "" {
			req.Content = caption
		}
	} else {
		req.Content = publicMediaURL(s.MediaURL, e.cfg.App.App.PublicBaseURL)
		req.Caption = caption
	}

	if err := e.enqueuer.Enqueue(ctx, req, queue.Options{}); err != nil {
		e.logger.ErrorContext(ctx, "Failed to enqueue scheduled send", slog.Any("error", err),
			slog.Int64("schedule_id", s.ID),
		)
		return
	}

	e.logger.InfoContext(ctx, "Schedule fired",
		slog.Int64("schedule_id", s.ID),
		slog.String("name", s.Name),
	)

	if s.IncludeRandomPool {
		e.sendRandomPoolItem(ctx, s)
	}
}

// buildCaption resolves the rule's caption by mode. Auto mode asks the
// generator with today's event context; a disabled generator yields an
// empty caption, never an error.
func (e *Engine) buildCaption(ctx context.Context, s *models.Schedule, now time.Time) string {
	switch s.CaptionMode {
	case models.CaptionCustom:
		return s.CustomCaption
	case models.CaptionNone:
		return ""
	}

	loc := s.Location(e.cfg.Location)
	local := now.In(loc)

	req := gpt.CaptionRequest{
		Purpose:         s.Name,
		AnnounceEvents:  s.AnnounceEvents,
		DayOfWeek:       weekdaysPT[int(local.Weekday())],
		TodayDateStr:    local.Format("02/01/2006"),
		GreetingHint:    greetingFor(local.Hour()),
		PersonaOverride: s.PersonaPrompt,
	}

	if s.AnnounceEvents {
		e.fillEventContext(ctx, &req, local, loc)
	}

	caption, err := e.generator.Caption(ctx, req)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to generate caption", slog.Any("error", err),
			slog.Int64("schedule_id", s.ID),
		)
		return ""
	}
	return caption
}

// fillEventContext loads today's events and the nearest upcoming one into
// the caption request. Store failures degrade to a caption without event
// context.
func (e *Engine) fillEventContext(ctx context.Context, req *gpt.CaptionRequest, local time.Time, loc *time.Location) {
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	today, err := e.store.ListEventsInRange(ctx, dayStart, dayEnd)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list today's events", slog.Any("error", err))
		return
	}

	if len(today) > 0 {
		parts := make([]string, 0, len(today))
		for _, ev := range today {
			parts = append(parts, fmt.Sprintf("%s às %s", ev.Name, ev.Date.In(loc).Format("15:04")))
		}
		req.EventsTodayDetail = strings.Join(parts, "; ")
	}

	next, err := e.store.NextEventAfter(ctx, local)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load next event", slog.Any("error", err))
		return
	}
	if next == nil {
		req.NoEvents = len(today) == 0
		return
	}

	req.NearestDateStr = fmt.Sprintf("%s em %s", next.Name, next.Date.In(loc).Format("02/01/2006 15:04"))
	until := next.Date.Sub(local)
	req.Countdown = &gpt.Countdown{
		Days:    int(until.Hours()) / 24,
		Hours:   int(until.Hours()) % 24,
		Minutes: int(until.Minutes()) % 60,
	}
}

// sendRandomPoolItem samples one supplementary item, phrase or media with
// equal weight among available candidates, and sends it after the primary
// payload. Sampled media is disposable and removed after enqueue.
func (e *Engine) sendRandomPoolItem(ctx context.Context, s *models.Schedule) {
	type candidate struct {
		req     *models.SendRequest
		mediaID int64
	}
	var candidates []candidate

	phrase, err := e.store.RandomPhrase(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to sample phrase pool", slog.Any("error", err))
	} else if phrase != nil {
		content := phrase.Text
		if s.IncludeIntro {
			content = "Frase do dia: " + content
		}
		candidates = append(candidates, candidate{
			req: &models.SendRequest{
				GroupID: e.cfg.App.App.DefaultGroup,
				Type:    models.KindText,
				Content: content,
			},
		})
	}

	media, err := e.store.RandomMediaItem(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to sample media pool", slog.Any("error", err))
	} else if media != nil {
		caption := ""
		if s.IncludeIntro {
			if media.Type == models.KindVideo {
				caption = "Vídeo do dia:"
			} else {
				caption = "Foto do dia:"
			}
		}
		candidates = append(candidates, candidate{
			req: &models.SendRequest{
				GroupID: e.cfg.App.App.DefaultGroup,
				Type:    media.Type,
				Content: publicMediaURL(media.Path, e.cfg.App.App.PublicBaseURL),
				Caption: caption,
				Cleanup: &models.Cleanup{Type: media.Type, Filename: media.Path, Scope: "pool"},
			},
			mediaID: media.ID,
		})
	}

	if len(candidates) == 0 {
		return
	}

	chosen := candidates[e.pick(len(candidates))]
	if err := e.enqueuer.Enqueue(ctx, chosen.req, queue.Options{}); err != nil {
		e.logger.ErrorContext(ctx, "Failed to enqueue pool item", slog.Any("error", err),
			slog.Int64("schedule_id", s.ID),
		)
		return
	}

	if chosen.mediaID != 0 {
		if err := e.store.DeleteMediaItem(ctx, chosen.mediaID); err != nil {
			e.logger.ErrorContext(ctx, "Failed to delete sent media item", slog.Any("error", err),
				slog.Int64("media_id", chosen.mediaID),
			)
		}
	}
}

// announceDueEvents sends one announcement per due date, batching events
// that share a calendar date, then marks and removes the announced rows.
func (e *Engine) announceDueEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "Event announcement panicked", slog.Any("panic", r))
		}
	}()

	due, err := e.store.ListDueEvents(ctx, e.now())
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list due events", slog.Any("error", err))
		return
	}
	if len(due) == 0 {
		return
	}

	var announced []int64
	for _, group := range groupEventsByDate(due, e.cfg.Location) {
		if err := e.announceEventGroup(ctx, group); err != nil {
			e.logger.ErrorContext(ctx, "Failed to announce events", slog.Any("error", err),
				slog.String("names", strings.Join(eventNames(group), ", ")),
			)
			continue
		}
		for _, ev := range group {
			announced = append(announced, ev.ID)
		}
	}
	if len(announced) == 0 {
		return
	}

	if err := e.store.MarkEventsAnnounced(ctx, announced); err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark events announced", slog.Any("error", err))
		return
	}
	if err := e.store.DeleteEvents(ctx, announced); err != nil {
		e.logger.ErrorContext(ctx, "Failed to delete announced events", slog.Any("error", err))
	}
}

func (e *Engine) announceEventGroup(ctx context.Context, group []*models.Event) error {
	names := eventNames(group)
	timeStr := group[0].Date.In(e.cfg.Location).Format("15:04")

	text, err := e.generator.Caption(ctx, gpt.CaptionRequest{
		Purpose: "aviso de evento que está começando agora",
		Names:   names,
		TimeStr: timeStr,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to generate event announcement", slog.Any("error", err),
			slog.String("names", strings.Join(names, ", ")),
		)
	}
	if text == "" {
		text = fmt.Sprintf("É hora do evento %s! (%s)", strings.Join(names, ", "), timeStr)
	}

	return e.enqueuer.Enqueue(ctx, &models.SendRequest{
		GroupID: e.cfg.App.App.DefaultGroup,
		Type:    models.KindText,
		Content: text,
	}, queue.Options{})
}

// groupEventsByDate batches events sharing a calendar date, preserving the
// store's date order within and across groups.
func groupEventsByDate(events []*models.Event, loc *time.Location) [][]*models.Event {
	var groups [][]*models.Event
	index := make(map[string]int)
	for _, ev := range events {
		day := ev.Date.In(loc).Format("2006-01-02")
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], ev)
	}
	return groups
}

func eventNames(events []*models.Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	return names
}

func greetingFor(hour int) string {
	switch {
	case hour < 12:
		return "bom dia"
	case hour < 18:
		return "boa tarde"
	default:
		return "boa noite"
	}
}

// publicMediaURL turns a stored relative media reference into an absolute
// delivery URL when a public base URL is configured.
func publicMediaURL(url, base string) string {
	if url == "" || strings.HasPrefix(url, "http") || base == "" {
		return url
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(url, "/")
}
