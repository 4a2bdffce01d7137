package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ConversationSession{}, &ConversationLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedStart(t *testing.T, repo *Repo, ip, email, sessionID string, startedAt time.Time) {
	t.Helper()
	if err := repo.InsertLog(context.Background(), &ConversationLog{
		SessionID: sessionID,
		IPAddress: ip,
		UserEmail: email,
		StartedAt: startedAt,
	}); err != nil {
		t.Fatalf("seed log: %v", err)
	}
}

func TestCheck_EmptyLogReadsAsZeroUsage(t *testing.T) {
	svc := NewService(NewRepo(openTestDB(t)), nil, nil)

	d, err := svc.Check(context.Background(), "203.0.113.9", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected allowed for unseen IP")
	}
	if d.Limits.HourlyCount != 0 || d.Limits.DailyCount != 0 {
		t.Fatalf("expected zero counts, got %+v", d.Limits)
	}
	if d.RestrictionReason != "" {
		t.Fatalf("unexpected restriction reason: %q", d.RestrictionReason)
	}
	if d.IsReturningUser {
		t.Fatalf("unseen IP should not be a returning user")
	}
}

func TestCheck_WindowBoundaries(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, nil, nil)

	now := time.Now().UTC()
	// 2 starts inside the hour, 3 more inside the day but outside the hour
	seedStart(t, repo, "10.0.0.1", "", "S0000000000000000000000001", now.Add(-30*time.Minute))
	seedStart(t, repo, "10.0.0.1", "", "S0000000000000000000000002", now.Add(-45*time.Minute))
	for i, age := range []time.Duration{2 * time.Hour, 5 * time.Hour, 23 * time.Hour} {
		seedStart(t, repo, "10.0.0.1", "", fmt.Sprintf("S00000000000000000000001%d", i), now.Add(-age))
	}
	// outside the day entirely
	seedStart(t, repo, "10.0.0.1", "", "S0000000000000000000000020", now.Add(-25*time.Hour))

	d, err := svc.Check(context.Background(), "10.0.0.1", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Limits.HourlyCount != 2 {
		t.Fatalf("hourly count: got %d want 2", d.Limits.HourlyCount)
	}
	if d.Limits.DailyCount != 5 {
		t.Fatalf("daily count: got %d want 5", d.Limits.DailyCount)
	}
	if !d.Allowed {
		t.Fatalf("expected allowed under both limits")
	}
}

func TestStart_TenCallsSameIP(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, nil, nil)

	for i := 1; i <= 10; i++ {
		res, err := svc.Start(context.Background(), StartRequest{IPAddress: "10.0.0.2"})
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if i <= IPHourlyLimit {
			if !res.Allowed {
				t.Fatalf("start %d: expected allowed", i)
			}
			if res.SessionID == "" {
				t.Fatalf("start %d: expected session id", i)
			}
		} else {
			if res.Allowed {
				t.Fatalf("start %d: expected denied", i)
			}
			if res.SessionID != "" {
				t.Fatalf("start %d: denied start must not allocate a session", i)
			}
			if !strings.Contains(res.RestrictionReason, "hourly") {
				t.Fatalf("start %d: reason should cite the hourly limit, got %q", i, res.RestrictionReason)
			}
		}
	}

	// denied starts must not have been recorded
	n, err := repo.CountByIPSince(context.Background(), "10.0.0.2", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != IPHourlyLimit {
		t.Fatalf("expected %d recorded starts, got %d", IPHourlyLimit, n)
	}
}

func TestCheck_IPDailyLimit(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, nil, nil)

	now := time.Now().UTC()
	// spread past the hourly window so only the daily limit trips
	for i := 0; i < IPDailyLimit; i++ {
		seedStart(t, repo, "10.0.0.3", "", fmt.Sprintf("D000000000000000000000%02d", i), now.Add(-time.Duration(2+i)*time.Hour))
	}

	d, err := svc.Check(context.Background(), "10.0.0.3", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected denied at daily limit")
	}
	if !strings.Contains(d.RestrictionReason, "daily") {
		t.Fatalf("reason should cite the daily limit, got %q", d.RestrictionReason)
	}
}

func TestCheck_EmailLimitIndependentOfIP(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, nil, nil)

	now := time.Now().UTC()
	// exhaust the email hourly quota across many IPs, each IP well under its
	// own limits
	for i := 0; i < EmailHourlyLimit; i++ {
		seedStart(t, repo, fmt.Sprintf("172.16.0.%d", i+1), "shared@example.com",
			fmt.Sprintf("E000000000000000000000%02d", i), now.Add(-10*time.Minute))
	}

	d, err := svc.Check(context.Background(), "172.16.0.200", "shared@example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected denied on email quota")
	}
	if !strings.Contains(d.RestrictionReason, "email") {
		t.Fatalf("reason should cite the email dimension, got %q", d.RestrictionReason)
	}
	if d.Limits.HourlyCount != 0 {
		t.Fatalf("fresh IP should have zero hourly count, got %d", d.Limits.HourlyCount)
	}
	if d.Limits.DuplicateEmailIPs != EmailHourlyLimit {
		t.Fatalf("distinct IPs: got %d want %d", d.Limits.DuplicateEmailIPs, EmailHourlyLimit)
	}
}

type capturingTelemetry struct {
	events []AbuseEvent
}

func (c *capturingTelemetry) PublishAbuseEvent(ctx context.Context, ev AbuseEvent) error {
	_ = ctx
	c.events = append(c.events, ev)
	return nil
}

func TestCheck_MultiIPAbuseIsAdvisoryOnly(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	tel := &capturingTelemetry{}
	svc := NewService(repo, nil, tel)

	now := time.Now().UTC()
	// 4 distinct IPs (over the threshold), still under the email quotas, and
	// the checking IP is not among them
	for i := 0; i < 4; i++ {
		seedStart(t, repo, fmt.Sprintf("192.0.2.%d", i+1), "roamer@example.com",
			fmt.Sprintf("A000000000000000000000%02d", i), now.Add(-time.Duration(2+i)*time.Hour))
	}

	d, err := svc.Check(context.Background(), "192.0.2.99", "roamer@example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("advisory flag must not block: %+v", d)
	}
	if len(tel.events) != 1 {
		t.Fatalf("expected one abuse event, got %d", len(tel.events))
	}
	if tel.events[0].DistinctIPs != 4 {
		t.Fatalf("abuse event distinct ips: got %d", tel.events[0].DistinctIPs)
	}
}

func TestMessageAndEnd_Bookkeeping(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, nil, nil)

	res, err := svc.Start(context.Background(), StartRequest{IPAddress: "10.0.0.5", UserEmail: "a@b.c"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	svc.Message(context.Background(), res.SessionID, 7)

	l, err := repo.GetLogBySessionID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("get log: %v", err)
	}
	if l.MessageCount != 7 {
		t.Fatalf("message count: got %d want 7", l.MessageCount)
	}

	svc.End(context.Background(), res.SessionID)

	l, err = repo.GetLogBySessionID(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("get log after end: %v", err)
	}
	if l.EndedAt == nil {
		t.Fatalf("expected ended_at set")
	}
	if l.DurationMinutes == nil || *l.DurationMinutes != 4 {
		t.Fatalf("duration: got %v want 4", l.DurationMinutes)
	}

	// ending the conversation makes the caller a returning user
	d, err := svc.Check(context.Background(), "10.0.0.5", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.IsReturningUser {
		t.Fatalf("expected returning user after an earlier conversation")
	}
}

func TestEstimateDurationMinutes(t *testing.T) {
	cases := []struct{ count, want int }{
		{0, 1},
		{1, 1},
		{2, 1},
		{3, 2},
		{4, 2},
		{9, 5},
	}
	for _, c := range cases {
		if got := EstimateDurationMinutes(c.count); got != c.want {
			t.Fatalf("count=%d: got %d want %d", c.count, got, c.want)
		}
	}
}

func TestStart_UpsertsOneSessionRowPerIP(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	svc := NewService(repo, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.Start(context.Background(), StartRequest{IPAddress: "10.0.0.6"}); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}

	var n int64
	if err := db.Model(&ConversationSession{}).Where("ip_address = ?", "10.0.0.6").Count(&n).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one session row per IP, got %d", n)
	}
}
