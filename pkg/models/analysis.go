package models

import "time"

// AnalysisEntry is one anonymized transcript line stored with an analysis
// audit record.
type AnalysisEntry struct {
	Idx    int    `json:"idx"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// AnalysisLog is the audit record written after an analysis command run.
type AnalysisLog struct {
	ID            int64           `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	ChatID        string          `json:"chat_id" db:"chat_id"`
	RequestedN    int             `json:"requested_n" db:"requested_n"`
	AnalyzedCount int             `json:"analyzed_count" db:"analyzed_count"`
	Messages      []AnalysisEntry `json:"messages" db:"messages"`
	Result        string          `json:"result" db:"result"`
	DurationMs    int64           `json:"duration_ms" db:"duration_ms"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
