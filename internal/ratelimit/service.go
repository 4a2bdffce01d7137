// Package ratelimit decides whether an IP/email may start or continue a
// conversation. Decisions are derived by counting an append-only log of
// conversation starts over sliding windows; nothing in this package maintains
// a separate counter.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aetherlab/ai-hub/internal/common"
)

const (
	IPHourlyLimit    = 5
	IPDailyLimit     = 10
	EmailHourlyLimit = 10
	EmailDailyLimit  = 20

	// Distinct IPs per email in 24h above which we flag advisory abuse.
	duplicateIPThreshold = 3
)

// Flags records returning-user markers. Implementations are best-effort
// caches; a miss falls back to the log.
type Flags interface {
	MarkReturning(ctx context.Context, ip, email string) error
	IsReturning(ctx context.Context, ip, email string) (bool, error)
}

// Telemetry receives advisory abuse observations. Publishing never affects
// the allow/deny decision.
type Telemetry interface {
	PublishAbuseEvent(ctx context.Context, ev AbuseEvent) error
}

type AbuseEvent struct {
	UserEmail   string    `json:"user_email"`
	IPAddress   string    `json:"ip_address"`
	DistinctIPs int       `json:"distinct_ips"`
	ObservedAt  time.Time `json:"observed_at"`
}

type Limits struct {
	DailyCount        int `json:"daily_count"`
	DailyLimit        int `json:"daily_limit"`
	HourlyCount       int `json:"hourly_count"`
	HourlyLimit       int `json:"hourly_limit"`
	EmailDailyCount   int `json:"email_daily_count"`
	EmailDailyLimit   int `json:"email_daily_limit"`
	EmailHourlyCount  int `json:"email_hourly_count"`
	EmailHourlyLimit  int `json:"email_hourly_limit"`
	DuplicateEmailIPs int `json:"duplicate_email_ips"`
}

type Decision struct {
	Allowed           bool
	Limits            Limits
	ResetTime         time.Time
	RestrictionReason string
	IsReturningUser   bool
}

type StartRequest struct {
	IPAddress string
	UserEmail string
	UserName  string
	Context   string
}

type StartResult struct {
	Decision
	SessionID string
}

type Service struct {
	repo      *Repo
	flags     Flags
	telemetry Telemetry
}

// NewService builds the limiter. flags and telemetry may be nil; both are
// best-effort collaborators.
func NewService(repo *Repo, flags Flags, telemetry Telemetry) *Service {
	return &Service{repo: repo, flags: flags, telemetry: telemetry}
}

// Check evaluates the quota without mutating anything. An empty log always
// reads as zero usage.
func (s *Service) Check(ctx context.Context, ip, email string) (Decision, error) {
	return s.evaluate(ctx, ip, email, time.Now().UTC())
}

func (s *Service) evaluate(ctx context.Context, ip, email string, now time.Time) (Decision, error) {
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	ipHourly, err := s.repo.CountByIPSince(ctx, ip, hourAgo)
	if err != nil {
		return Decision{}, err
	}
	ipDaily, err := s.repo.CountByIPSince(ctx, ip, dayAgo)
	if err != nil {
		return Decision{}, err
	}

	limits := Limits{
		HourlyCount:      int(ipHourly),
		HourlyLimit:      IPHourlyLimit,
		DailyCount:       int(ipDaily),
		DailyLimit:       IPDailyLimit,
		EmailHourlyLimit: EmailHourlyLimit,
		EmailDailyLimit:  EmailDailyLimit,
	}

	emailAllowed := true
	var emailHourly, emailDaily int64
	if email != "" {
		emailHourly, err = s.repo.CountByEmailSince(ctx, email, hourAgo)
		if err != nil {
			return Decision{}, err
		}
		emailDaily, err = s.repo.CountByEmailSince(ctx, email, dayAgo)
		if err != nil {
			return Decision{}, err
		}
		limits.EmailHourlyCount = int(emailHourly)
		limits.EmailDailyCount = int(emailDaily)
		emailAllowed = emailHourly < EmailHourlyLimit && emailDaily < EmailDailyLimit

		ips, err := s.repo.DistinctIPsForEmailSince(ctx, email, dayAgo)
		if err != nil {
			return Decision{}, err
		}
		limits.DuplicateEmailIPs = len(ips)
		s.observeMultiIP(ctx, ip, email, ips, now)
	}

	ipAllowed := ipHourly < IPHourlyLimit && ipDaily < IPDailyLimit

	d := Decision{
		Allowed: ipAllowed && emailAllowed,
		Limits:  limits,
		// Quotas are counted over rolling windows but surfaced to clients as
		// "try again after the top of the hour".
		ResetTime:       now.Truncate(time.Hour).Add(time.Hour),
		IsReturningUser: s.isReturning(ctx, ip, email),
	}

	switch {
	case !ipAllowed && ipHourly >= IPHourlyLimit:
		d.RestrictionReason = fmt.Sprintf("IP hourly limit reached (%d/%d conversations in the last hour)", ipHourly, IPHourlyLimit)
	case !ipAllowed:
		d.RestrictionReason = fmt.Sprintf("IP daily limit reached (%d/%d conversations in the last 24 hours)", ipDaily, IPDailyLimit)
	case !emailAllowed && emailHourly >= EmailHourlyLimit:
		d.RestrictionReason = fmt.Sprintf("email hourly limit reached (%d/%d conversations in the last hour)", emailHourly, EmailHourlyLimit)
	case !emailAllowed:
		d.RestrictionReason = fmt.Sprintf("email daily limit reached (%d/%d conversations in the last 24 hours)", emailDaily, EmailDailyLimit)
	}

	return d, nil
}

// observeMultiIP flags an email spread over many IPs. Advisory only: it logs
// and publishes telemetry, and never feeds back into the allowed decision.
func (s *Service) observeMultiIP(ctx context.Context, ip, email string, ips []string, now time.Time) {
	if len(ips) <= duplicateIPThreshold {
		return
	}
	for _, known := range ips {
		if known == ip {
			return
		}
	}
	log.Printf("[ratelimit] possible multi-IP abuse email=%s ip=%s distinct_ips=%d", email, ip, len(ips))
	if s.telemetry != nil {
		if err := s.telemetry.PublishAbuseEvent(ctx, AbuseEvent{
			UserEmail:   email,
			IPAddress:   ip,
			DistinctIPs: len(ips),
			ObservedAt:  now,
		}); err != nil {
			log.Printf("[ratelimit] abuse telemetry publish failed: %v", err)
		}
	}
}

func (s *Service) isReturning(ctx context.Context, ip, email string) bool {
	if s.flags != nil {
		if ok, err := s.flags.IsReturning(ctx, ip, email); err == nil && ok {
			return true
		}
	}
	ok, err := s.repo.HasAnyForIPOrEmail(ctx, ip, email)
	if err != nil {
		log.Printf("[ratelimit] returning-user lookup failed ip=%s: %v", ip, err)
		return false
	}
	return ok
}

// Start admits or rejects a new conversation. Nothing is recorded on a
// rejection. On admit, bookkeeping failures are logged but never surfaced:
// availability of the conversation beats perfect tracking.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	now := time.Now().UTC()

	d, err := s.evaluate(ctx, req.IPAddress, req.UserEmail, now)
	if err != nil {
		return StartResult{}, err
	}
	if !d.Allowed {
		return StartResult{Decision: d}, nil
	}

	sessionID, err := common.NewULID()
	if err != nil {
		return StartResult{}, err
	}

	if err := s.repo.UpsertSession(ctx, &ConversationSession{
		IPAddress:  req.IPAddress,
		UserEmail:  req.UserEmail,
		UserName:   req.UserName,
		Context:    req.Context,
		SessionID:  sessionID,
		StartedAt:  now,
		LastSeenAt: now,
	}); err != nil {
		log.Printf("[ratelimit] session upsert failed ip=%s: %v", req.IPAddress, err)
	}

	if err := s.repo.InsertLog(ctx, &ConversationLog{
		SessionID: sessionID,
		IPAddress: req.IPAddress,
		UserEmail: req.UserEmail,
		Context:   req.Context,
		StartedAt: now,
	}); err != nil {
		log.Printf("[ratelimit] log insert failed ip=%s session=%s: %v", req.IPAddress, sessionID, err)
	}

	return StartResult{Decision: d, SessionID: sessionID}, nil
}

// Message records the caller-reported message count for a session.
func (s *Service) Message(ctx context.Context, sessionID string, messageCount int) {
	if err := s.repo.SetMessageCount(ctx, sessionID, messageCount); err != nil {
		log.Printf("[ratelimit] message count update failed session=%s: %v", sessionID, err)
	}
}

// End closes out a tracking entry. Duration is a rough estimate from message
// count when no other timing signal exists.
func (s *Service) End(ctx context.Context, sessionID string) {
	now := time.Now().UTC()

	l, err := s.repo.GetLogBySessionID(ctx, sessionID)
	if err != nil {
		log.Printf("[ratelimit] end lookup failed session=%s: %v", sessionID, err)
		return
	}

	if err := s.repo.MarkEnded(ctx, sessionID, now, EstimateDurationMinutes(l.MessageCount)); err != nil {
		log.Printf("[ratelimit] end update failed session=%s: %v", sessionID, err)
	}

	if s.flags != nil {
		if err := s.flags.MarkReturning(ctx, l.IPAddress, l.UserEmail); err != nil {
			log.Printf("[ratelimit] returning-user mark failed session=%s: %v", sessionID, err)
		}
	}
}

// EstimateDurationMinutes assumes roughly half a minute per message, never
// less than one minute.
func EstimateDurationMinutes(messageCount int) int {
	d := (messageCount + 1) / 2
	if d < 1 {
		return 1
	}
	return d
}
