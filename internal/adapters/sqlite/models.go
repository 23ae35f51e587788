package sqlite

import "time"

type reportModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Client     string    `gorm:"column:client;not null"`
	Profile    string    `gorm:"column:profile;not null"`
	Document   string    `gorm:"column:document;not null"`
	Status     string    `gorm:"column:status;not null"`
	ErrorCount int       `gorm:"column:error_count;not null"`
	DurationMS int64     `gorm:"column:duration_ms;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

func (reportModel) TableName() string {
	return "validation_reports"
}

type reportErrorModel struct {
	ReportID string `gorm:"column:report_id;primaryKey"`
	Seq      int    `gorm:"column:seq;primaryKey"`
	Message  string `gorm:"column:message;not null"`
	Location string `gorm:"column:location;not null"`
}

func (reportErrorModel) TableName() string {
	return "validation_errors"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	Client        string     `gorm:"column:client;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

type apiKeyModel struct {
	TokenHash string    `gorm:"column:token_hash;primaryKey"`
	Client    string    `gorm:"column:client;not null"`
	Name      string    `gorm:"column:name;not null"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (apiKeyModel) TableName() string {
	return "api_keys"
}
