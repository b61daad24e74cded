package telemetry

import "time"

// Run statuses. A session has at most one run in RunActive at a time.
const (
	RunActive    = "active"
	RunCompleted = "completed"
	RunError     = "error"
)

type ConversationRun struct {
	ID                  string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID           string     `gorm:"type:varchar(64);index;not null" json:"session_id"`
	UserID              string     `gorm:"type:varchar(64);index" json:"user_id"`
	Status              string     `gorm:"type:varchar(16);index;not null" json:"status"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	TotalMessages       int        `json:"total_messages"`
	TotalTokens         int        `json:"total_tokens"`
	TotalCost           float64    `json:"total_cost"`
	AverageResponseTime float64    `json:"average_response_time"`
	SatisfactionScore   *float64   `json:"satisfaction_score,omitempty"`
	ErrorMessage        *string    `gorm:"type:text" json:"error_message,omitempty"`
}

func (ConversationRun) TableName() string { return "conversation_runs" }

type ConversationMessage struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID          string    `gorm:"type:varchar(36);index;not null" json:"run_id"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	TokenCount     int       `json:"token_count"`
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	Cost           float64   `json:"cost"`
	CreatedAt      time.Time `json:"created_at"`
}

func (ConversationMessage) TableName() string { return "conversation_messages" }

// ConversationAnalytics holds the derived per-run scores. All three scores are
// bounded heuristics in [0, 100], not calibrated quality measures.
type ConversationAnalytics struct {
	RunID           string    `gorm:"primaryKey;type:varchar(36)" json:"run_id"`
	CompletionRate  float64   `json:"completion_rate"`
	EngagementScore float64   `json:"engagement_score"`
	QualityScore    float64   `json:"quality_score"`
	ErrorCount      int       `json:"error_count"`
	RetryCount      int       `json:"retry_count"`
	CreatedAt       time.Time `json:"created_at"`
}

func (ConversationAnalytics) TableName() string { return "conversation_analytics" }
