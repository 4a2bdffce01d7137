package ratelimit

import "time"

// ConversationSession is the single active session row per IP, updated in
// place on every admitted start.
type ConversationSession struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	IPAddress  string    `gorm:"type:varchar(45);uniqueIndex;not null" json:"ip_address"`
	UserEmail  string    `gorm:"type:varchar(255);index" json:"user_email"`
	UserName   string    `gorm:"type:varchar(128)" json:"user_name"`
	Context    string    `gorm:"type:varchar(64)" json:"context"`
	SessionID  string    `gorm:"type:varchar(26);index;not null" json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ConversationSession) TableName() string { return "conversation_sessions" }

// ConversationLog is the append-only record of conversation starts. Quota
// counts are always derived from this log over sliding windows, never from a
// separately-mutated counter, so the log and the quota state cannot drift.
type ConversationLog struct {
	ID              uint64     `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID       string     `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	IPAddress       string     `gorm:"type:varchar(45);not null;index:idx_conv_log_ip_started,priority:1" json:"ip_address"`
	UserEmail       string     `gorm:"type:varchar(255);index:idx_conv_log_email_started,priority:1" json:"user_email"`
	Context         string     `gorm:"type:varchar(64)" json:"context"`
	MessageCount    int        `gorm:"not null;default:0" json:"message_count"`
	StartedAt       time.Time  `gorm:"index:idx_conv_log_ip_started,priority:2;index:idx_conv_log_email_started,priority:2" json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationMinutes *int       `json:"duration_minutes"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (ConversationLog) TableName() string { return "conversation_logs" }
