package ratelimit

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ConversationLog{}).
		Where("ip_address = ? AND started_at >= ?", ip, since).
		Count(&n).Error
	return n, err
}

func (r *Repo) CountByEmailSince(ctx context.Context, email string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ConversationLog{}).
		Where("user_email = ? AND started_at >= ?", email, since).
		Count(&n).Error
	return n, err
}

// DistinctIPsForEmailSince returns the set of IPs that started conversations
// under this email within the window.
func (r *Repo) DistinctIPsForEmailSince(ctx context.Context, email string, since time.Time) ([]string, error) {
	var ips []string
	err := r.db.WithContext(ctx).Model(&ConversationLog{}).
		Distinct("ip_address").
		Where("user_email = ? AND started_at >= ?", email, since).
		Pluck("ip_address", &ips).Error
	return ips, err
}

// UpsertSession keeps one active session row per IP, updating it in place.
func (r *Repo) UpsertSession(ctx context.Context, s *ConversationSession) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_email", "user_name", "context", "session_id",
			"started_at", "last_seen_at", "updated_at",
		}),
	}).Create(s).Error
}

func (r *Repo) InsertLog(ctx context.Context, l *ConversationLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *Repo) GetLogBySessionID(ctx context.Context, sessionID string) (*ConversationLog, error) {
	var l ConversationLog
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// SetMessageCount overwrites the tracked message count; the caller is the
// source of truth for its own count (last-write-wins).
func (r *Repo) SetMessageCount(ctx context.Context, sessionID string, count int) error {
	return r.db.WithContext(ctx).Model(&ConversationLog{}).
		Where("session_id = ?", sessionID).
		Update("message_count", count).Error
}

func (r *Repo) MarkEnded(ctx context.Context, sessionID string, endedAt time.Time, durationMinutes int) error {
	return r.db.WithContext(ctx).Model(&ConversationLog{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"ended_at":         endedAt,
			"duration_minutes": durationMinutes,
		}).Error
}

// HasAnyForIPOrEmail reports whether the log holds any prior entry for the IP
// or (when given) the email.
func (r *Repo) HasAnyForIPOrEmail(ctx context.Context, ip, email string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&ConversationLog{})
	if email != "" {
		q = q.Where("ip_address = ? OR user_email = ?", ip, email)
	} else {
		q = q.Where("ip_address = ?", ip)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// UsageSince aggregates log volume for the admin usage endpoint.
func (r *Repo) UsageSince(ctx context.Context, since time.Time) (conversations int64, messages int64, err error) {
	if err = r.db.WithContext(ctx).Model(&ConversationLog{}).
		Where("started_at >= ?", since).
		Count(&conversations).Error; err != nil {
		return 0, 0, err
	}
	var sum struct{ Total int64 }
	if err = r.db.WithContext(ctx).Model(&ConversationLog{}).
		Select("COALESCE(SUM(message_count), 0) AS total").
		Where("started_at >= ?", since).
		Scan(&sum).Error; err != nil {
		return 0, 0, err
	}
	return conversations, sum.Total, nil
}
