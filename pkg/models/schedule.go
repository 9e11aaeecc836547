package models

import "time"

// Caption modes for schedule sends.
const (
	CaptionAuto   = "auto"
	CaptionCustom = "custom"
	CaptionNone   = "none"
)

// Schedule is a recurrence-content rule. The recurrence is either an
// explicit five-field cron override or synthesized from Time plus
// DaysOfWeek. RegistrationID holds the backing scheduler's entry handle so
// the registration can be cancelled or replaced; zero means none.
type Schedule struct {
	ID                int64      `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Kind              string     `json:"kind" db:"kind"`
	Type              string     `json:"type" db:"type"`
	MediaURL          string     `json:"media_url" db:"media_url"`
	TextContent       string     `json:"text_content" db:"text_content"`
	CaptionMode       string     `json:"caption_mode" db:"caption_mode"`
	CustomCaption     string     `json:"custom_caption" db:"custom_caption"`
	IncludeIntro      bool       `json:"include_intro" db:"include_intro"`
	IncludeRandomPool bool       `json:"include_random_pool" db:"include_random_pool"`
	AnnounceEvents    bool       `json:"announce_events" db:"announce_events"`
	PersonaPrompt     string     `json:"persona_prompt" db:"persona_prompt"`
	UseCronOverride   bool       `json:"use_cron_override" db:"use_cron_override"`
	Cron              string     `json:"cron" db:"cron"`
	Time              string     `json:"time" db:"time"`
	DaysOfWeek        []int      `json:"days_of_week" db:"days_of_week"`
	Timezone          string     `json:"timezone" db:"timezone"`
	StartDate         *time.Time `json:"start_date" db:"start_date"`
	EndDate           *time.Time `json:"end_date" db:"end_date"`
	Active            bool       `json:"active" db:"active"`
	RegistrationID    int64      `json:"registration_id" db:"registration_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Location resolves the schedule's timezone, falling back to the given
// default when unset or invalid.
func (s *Schedule) Location(fallback *time.Location) *time.Location {
	if s.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// RunsOn reports whether the rule is eligible at the given instant: inside
// the optional validity window and, when a day-of-week restriction is set,
// on a listed weekday in the rule's timezone.
func (s *Schedule) RunsOn(now time.Time, fallback *time.Location) bool {
	if s.StartDate != nil && now.Before(*s.StartDate) {
		return false
	}
	if s.EndDate != nil && now.After(*s.EndDate) {
		return false
	}
	if len(s.DaysOfWeek) > 0 {
		dow := int(now.In(s.Location(fallback)).Weekday())
		found := false
		for _, d := range s.DaysOfWeek {
			if d == dow {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
