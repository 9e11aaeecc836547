package models

import "time"

// Match modes for trigger phrases.
const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// Response and schedule content kinds.
const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
)

// Reply modes.
const (
	ReplyModeReply = "reply"
	ReplyModeNew   = "new"
)

// Trigger is a configured condition-response rule evaluated against
// incoming messages. The engine only ever mutates TriggeredCount (through
// the store) and the in-memory cooldown stamps; everything else is managed
// by the admin CRUD surface.
type Trigger struct {
	ID                     int64      `json:"id" db:"id"`
	Name                   string     `json:"name" db:"name"`
	Phrases                []string   `json:"phrases" db:"phrases"`
	MatchType              string     `json:"match_type" db:"match_type"`
	CaseSensitive          bool       `json:"case_sensitive" db:"case_sensitive"`
	NormalizeAccents       bool       `json:"normalize_accents" db:"normalize_accents"`
	WholeWord              bool       `json:"whole_word" db:"whole_word"`
	ResponseType           string     `json:"response_type" db:"response_type"`
	ResponseText           string     `json:"response_text" db:"response_text"`
	ResponseMediaURL       string     `json:"response_media_url" db:"response_media_url"`
	ReplyMode              string     `json:"reply_mode" db:"reply_mode"`
	MentionSender          bool       `json:"mention_sender" db:"mention_sender"`
	ChancePercent          int        `json:"chance_percent" db:"chance_percent"`
	ExpiresAt              *time.Time `json:"expires_at" db:"expires_at"`
	MaxUses                *int       `json:"max_uses" db:"max_uses"`
	TriggeredCount         int        `json:"triggered_count" db:"triggered_count"`
	CooldownSeconds        int        `json:"cooldown_seconds" db:"cooldown_seconds"`
	CooldownPerUserSeconds int        `json:"cooldown_per_user_seconds" db:"cooldown_per_user_seconds"`
	Active                 bool       `json:"active" db:"active"`
	AllowedUsers           []string   `json:"allowed_users" db:"allowed_users"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// Eligible reports whether the rule may fire at all right now: active, not
// expired and not past its use ceiling. Ineligible rules stay in the store
// untouched.
func (t *Trigger) Eligible(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	if t.MaxUses != nil && *t.MaxUses > 0 && t.TriggeredCount >= *t.MaxUses {
		return false
	}
	return true
}
