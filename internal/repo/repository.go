package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/gregolima/zeca/pkg/models"
)

// Repository provides database operations
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new repository instance
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Trigger operations

const triggerColumns = `id, name, phrases, match_type, case_sensitive, normalize_accents, whole_word,
	response_type, response_text, response_media_url, reply_mode, mention_sender, chance_percent,
	expires_at, max_uses, triggered_count, cooldown_seconds, cooldown_per_user_seconds, active,
	allowed_users, created_at, updated_at`

func scanTrigger(row pgx.Row) (*models.Trigger, error) {
	t := &models.Trigger{}
	err := row.Scan(&t.ID, &t.Name, &t.Phrases, &t.MatchType, &t.CaseSensitive, &t.NormalizeAccents,
		&t.WholeWord, &t.ResponseType, &t.ResponseText, &t.ResponseMediaURL, &t.ReplyMode,
		&t.MentionSender, &t.ChancePercent, &t.ExpiresAt, &t.MaxUses, &t.TriggeredCount,
		&t.CooldownSeconds, &t.CooldownPerUserSeconds, &t.Active, &t.AllowedUsers,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTriggers returns all trigger rules in creation order.
func (r *Repository) ListTriggers(ctx context.Context) ([]*models.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, t)
	}

	return triggers, rows.Err()
}

// GetTrigger returns a single trigger by id, or nil when not found.
func (r *Repository) GetTrigger(ctx context.Context, id int64) (*models.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE id = $1`

	t, err := scanTrigger(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// IncrementTriggerUse bumps the running use counter of a trigger.
func (r *Repository) IncrementTriggerUse(ctx context.Context, id int64) error {
	query := `UPDATE triggers SET triggered_count = triggered_count + 1, updated_at = NOW() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment trigger use: %w", err)
	}
	return nil
}

// Schedule operations

const scheduleColumns = `id, name, kind, type, media_url, text_content, caption_mode, custom_caption,
	include_intro, include_random_pool, announce_events, persona_prompt, use_cron_override, cron,
	run_time, days_of_week, timezone, start_date, end_date, active, registration_id, created_at, updated_at`

func scanSchedule(row pgx.Row) (*models.Schedule, error) {
	s := &models.Schedule{}
	var days []int32
	err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.Type, &s.MediaURL, &s.TextContent, &s.CaptionMode,
		&s.CustomCaption, &s.IncludeIntro, &s.IncludeRandomPool, &s.AnnounceEvents, &s.PersonaPrompt,
		&s.UseCronOverride, &s.Cron, &s.Time, &days, &s.Timezone, &s.StartDate, &s.EndDate,
		&s.Active, &s.RegistrationID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.DaysOfWeek = make([]int, 0, len(days))
	for _, d := range days {
		s.DaysOfWeek = append(s.DaysOfWeek, int(d))
	}
	return s, nil
}

func (r *Repository) listSchedules(ctx context.Context, query string) ([]*models.Schedule, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}

	return schedules, rows.Err()
}

// ListSchedules returns every schedule rule, active or not.
func (r *Repository) ListSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return r.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id`)
}

// ListActiveSchedules returns only active schedule rules.
func (r *Repository) ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return r.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active ORDER BY id`)
}

// GetSchedule returns a single schedule by id, or nil when not found.
func (r *Repository) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	s, err := scanSchedule(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// SetScheduleRegistration persists the backing scheduler's entry handle for
// a rule; zero clears it.
func (r *Repository) SetScheduleRegistration(ctx context.Context, id, registrationID int64) error {
	query := `UPDATE schedules SET registration_id = $2, updated_at = NOW() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, registrationID)
	if err != nil {
		return fmt.Errorf("failed to set schedule registration: %w", err)
	}
	return nil
}

// ClearAllScheduleRegistrations drops every persisted registration handle,
// active rules included. Used before a full re-registration pass.
func (r *Repository) ClearAllScheduleRegistrations(ctx context.Context) error {
	query := `UPDATE schedules SET registration_id = 0, updated_at = NOW() WHERE registration_id <> 0`

	_, err := r.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to clear schedule registrations: %w", err)
	}
	return nil
}

// Random pool operations

// RandomPhrase samples one phrase from the pool, or nil when the pool is empty.
func (r *Repository) RandomPhrase(ctx context.Context) (*models.Phrase, error) {
	query := `SELECT id, text, created_at FROM phrases ORDER BY random() LIMIT 1`

	p := &models.Phrase{}
	err := r.pool.QueryRow(ctx, query).Scan(&p.ID, &p.Text, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to sample phrase: %w", err)
	}
	return p, nil
}

// AddPhrase inserts a phrase into the pool.
func (r *Repository) AddPhrase(ctx context.Context, text string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO phrases (text) VALUES ($1)`, text)
	if err != nil {
		return fmt.Errorf("failed to add phrase: %w", err)
	}
	return nil
}

// RandomMediaItem samples one media item from the pool, or nil when empty.
func (r *Repository) RandomMediaItem(ctx context.Context) (*models.MediaItem, error) {
	query := `SELECT id, type, path, created_at FROM media_items ORDER BY random() LIMIT 1`

	m := &models.MediaItem{}
	err := r.pool.QueryRow(ctx, query).Scan(&m.ID, &m.Type, &m.Path, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to sample media item: %w", err)
	}
	return m, nil
}

// DeleteMediaItem removes a disposable pool item after it has been sent.
func (r *Repository) DeleteMediaItem(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM media_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete media item: %w", err)
	}
	return nil
}

// Event operations

const eventColumns = `id, name, date, announced, announced_at, created_at`

func scanEvents(rows pgx.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		e := &models.Event{}
		if err := rows.Scan(&e.ID, &e.Name, &e.Date, &e.Announced, &e.AnnouncedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEventsInRange returns events with a date inside [from, to], soonest first.
func (r *Repository) ListEventsInRange(ctx context.Context, from, to time.Time) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE date >= $1 AND date <= $2 ORDER BY date`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list events in range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// NextEventAfter returns the first event strictly after the given instant,
// or nil when there is none.
func (r *Repository) NextEventAfter(ctx context.Context, after time.Time) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE date > $1 ORDER BY date LIMIT 1`

	e := &models.Event{}
	err := r.pool.QueryRow(ctx, query, after).Scan(&e.ID, &e.Name, &e.Date, &e.Announced, &e.AnnouncedAt, &e.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get next event: %w", err)
	}
	return e, nil
}

// ListDueEvents returns unannounced events whose date has passed.
func (r *Repository) ListDueEvents(ctx context.Context, now time.Time) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE date <= $1 AND NOT announced ORDER BY date`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MarkEventsAnnounced flags the given events as announced.
func (r *Repository) MarkEventsAnnounced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE events SET announced = TRUE, announced_at = NOW() WHERE id = ANY($1)`

	_, err := r.pool.Exec(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to mark events announced: %w", err)
	}
	return nil
}

// DeleteEvents removes events by id.
func (r *Repository) DeleteEvents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

// Analysis audit operations

// SaveAnalysisLog writes the audit record of an analysis command run.
func (r *Repository) SaveAnalysisLog(ctx context.Context, entry *models.AnalysisLog) error {
	messagesJSON, err := json.Marshal(entry.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis transcript: %w", err)
	}

	query := `
		INSERT INTO analysis_logs (user_id, chat_id, requested_n, analyzed_count, messages, result, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return r.pool.QueryRow(ctx, query, entry.UserID, entry.ChatID, entry.RequestedN,
		entry.AnalyzedCount, messagesJSON, entry.Result, entry.DurationMs).Scan(&entry.ID, &entry.CreatedAt)
}
