package models

import "time"

// Phrase is a supplementary text item sampled for the random pool send.
type Phrase struct {
	ID        int64     `json:"id" db:"id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MediaItem is a supplementary media item in the shared pool. Pool items
// are disposable: once sampled and sent they are removed.
type MediaItem struct {
	ID        int64     `json:"id" db:"id"`
	Type      string    `json:"type" db:"type"`
	Path      string    `json:"path" db:"path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event is a dated occurrence announced by the schedule engine and used to
// enrich auto-generated captions.
type Event struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Date        time.Time  `json:"date" db:"date"`
	Announced   bool       `json:"announced" db:"announced"`
	AnnouncedAt *time.Time `json:"announced_at" db:"announced_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
