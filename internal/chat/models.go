package chat

import "time"

// Session is a routed conversation. Provider/Model/Reasoning are fixed at
// create time by the model router; TrackingID ties the session to its
// conversation-limit log entry.
type Session struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID  string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	IPAddress  string    `gorm:"type:varchar(45);index;not null" json:"-"`
	UserEmail  string    `gorm:"type:varchar(255);index" json:"-"`
	Provider   string    `gorm:"type:varchar(32);not null" json:"provider"`
	Model      string    `gorm:"type:varchar(64);not null" json:"model"`
	Reasoning  string    `gorm:"type:text" json:"reasoning"`
	UsedTriage bool      `gorm:"not null;default:false" json:"used_triage"`
	TrackingID string    `gorm:"type:varchar(26);index" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_session_id;index:uniq_chat_msg_idempo,unique,priority:1" json:"session_id"`
	Role           string    `gorm:"type:varchar(16);index;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IdempotencyKey *string   `gorm:"type:varchar(128);index:uniq_chat_msg_idempo,unique,priority:2" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }
