package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aetherlab/ai-hub/internal/ai"
	"github.com/aetherlab/ai-hub/internal/common"
	"github.com/aetherlab/ai-hub/internal/ratelimit"
	"github.com/aetherlab/ai-hub/internal/router"
	"gorm.io/gorm"
)

// LimitExceededError carries the limiter's decision up to the HTTP layer so
// it can answer 429 with the quota details.
type LimitExceededError struct {
	Decision ratelimit.Decision
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("chat: conversation limit reached: %s", e.Decision.RestrictionReason)
}

type Service struct {
	repo              *Repo
	registry          *ai.Registry
	limiter           *ratelimit.Service
	smartRouting      bool
	contextWindowSize int
}

func NewService(repo *Repo, registry *ai.Registry, limiter *ratelimit.Service, smartRouting bool, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{
		repo:              repo,
		registry:          registry,
		limiter:           limiter,
		smartRouting:      smartRouting,
		contextWindowSize: contextWindowSize,
	}
}

// CreateSession gates the conversation on the rate limiter, then fixes a
// model for the session via the router. Triage comes from the caller; this
// service never classifies queries itself.
func (s *Service) CreateSession(ctx context.Context, ip, email string, triage router.TriageResult, cfg router.UserConfig) (*Session, *router.ModelSelection, error) {
	start, err := s.limiter.Start(ctx, ratelimit.StartRequest{
		IPAddress: ip,
		UserEmail: email,
		Context:   "chat",
	})
	if err != nil {
		return nil, nil, err
	}
	if !start.Allowed {
		return nil, nil, &LimitExceededError{Decision: start.Decision}
	}

	sel, err := router.SelectModel(triage, cfg, s.smartRouting)
	if err != nil {
		// routing failed after the limiter admitted us; close out the
		// tracking entry rather than leaking an open conversation
		s.limiter.End(ctx, start.SessionID)
		return nil, nil, err
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, nil, err
	}

	session := &Session{
		SessionID:  sid,
		IPAddress:  ip,
		UserEmail:  email,
		Provider:   string(sel.Provider),
		Model:      sel.Model,
		Reasoning:  sel.Reasoning,
		UsedTriage: sel.UsedTriage,
		TrackingID: start.SessionID,
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, nil, err
	}
	return session, &sel, nil
}

func (s *Service) providerForSession(ctx context.Context, sess *Session) (ai.Provider, error) {
	return s.registry.Get(ctx, router.Provider(sess.Provider), sess.Model)
}

// reportUsage pushes the current transcript size to the limiter, best-effort.
func (s *Service) reportUsage(ctx context.Context, sess *Session) {
	if sess.TrackingID == "" {
		return
	}
	n, err := s.repo.CountMessages(ctx, sess.SessionID)
	if err != nil {
		return
	}
	s.limiter.Message(ctx, sess.TrackingID, int(n))
}

func (s *Service) SendMessage(ctx context.Context, sessionID string, content string) (reply string, assistantMsgID uint64, err error) {
	// 1) resolve session
	session, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}

	provider, err := s.providerForSession(ctx, session)
	if err != nil {
		return "", 0, err
	}

	// 2) store user message (strong consistency)
	userMsg := &Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return "", 0, err
	}

	// 3) build provider messages from recent DB history
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, s.contextWindowSize)
	if err != nil {
		return "", 0, err
	}

	// reverse to ASC (oldest -> newest)
	providerMsgs := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		providerMsgs = append(providerMsgs, ai.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	// 4) call provider
	reply, err = provider.Chat(ctx, providerMsgs)
	if err != nil {
		return "", 0, err
	}

	// 5) store assistant message (strong consistency)
	assistantMsg := &Message{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   reply,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		return "", 0, err
	}

	s.reportUsage(ctx, session)

	return reply, assistantMsg.ID, nil
}

func (s *Service) ListMessages(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if _, err := s.repo.GetSessionBySessionID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID, limit, beforeID)
}

// SendMessageStream stores the user message immediately, streams assistant chunks,
// and finally stores the assistant message after streaming completes.
func (s *Service) SendMessageStream(ctx context.Context, sessionID string, content string) (chunks <-chan string, done <-chan struct{}, assistantMsgID <-chan uint64, errs <-chan error) {
	outChunks := make(chan string, 16)
	outDone := make(chan struct{})
	outMsgID := make(chan uint64, 1)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outChunks)
		defer close(outDone)
		defer close(outMsgID)
		defer close(outErrs)

		// 1) resolve session
		sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
		if err != nil {
			outErrs <- err
			return
		}

		provider, err := s.providerForSession(ctx, sess)
		if err != nil {
			outErrs <- err
			return
		}

		// 2) insert user message
		userMsg := &Message{
			SessionID: sessionID,
			Role:      "user",
			Content:   content,
		}
		if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
			outErrs <- err
			return
		}

		// 3) load recent messages, build provider context (ASC)
		recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, s.contextWindowSize)
		if err != nil {
			outErrs <- err
			return
		}
		providerMsgs := make([]ai.Message, 0, len(recentDesc))
		for i := len(recentDesc) - 1; i >= 0; i-- {
			m := recentDesc[i]
			providerMsgs = append(providerMsgs, ai.Message{Role: m.Role, Content: m.Content})
		}

		sp, ok := provider.(ai.StreamProvider)
		if !ok {
			outErrs <- errors.New("provider does not support streaming")
			return
		}

		// 4) stream from provider
		pChunks, pErrs := sp.StreamChat(ctx, providerMsgs)

		var b strings.Builder
		for c := range pChunks {
			b.WriteString(c)
			outChunks <- c
		}

		// provider error (if any)
		select {
		case err := <-pErrs:
			if err != nil {
				outErrs <- err
				return
			}
		default:
			// no error sent
		}

		reply := b.String()

		// 5) insert assistant message at the end
		assistantMsg := &Message{
			SessionID: sessionID,
			Role:      "assistant",
			Content:   reply,
		}
		if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
			outErrs <- err
			return
		}

		s.reportUsage(ctx, sess)

		outMsgID <- assistantMsg.ID
	}()

	return outChunks, outDone, outMsgID, outErrs
}

// EndSession closes out the limiter tracking entry for a session.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.TrackingID != "" {
		s.limiter.End(ctx, sess.TrackingID)
	}
	return nil
}

func (s *Service) InsertUserMessage(ctx context.Context, sessionID string, content string) error {
	if _, err := s.repo.GetSessionBySessionID(ctx, sessionID); err != nil {
		return err
	}
	return s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
	})
}

func (s *Service) CreateJob(ctx context.Context, job *Job) error {
	return s.repo.CreateJob(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

func (s *Service) GenerateAssistantReplyAndInsert(ctx context.Context, sessionID string) (string, uint64, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", 0, gorm.ErrRecordNotFound
		}
		return "", 0, err
	}

	provider, err := s.providerForSession(ctx, sess)
	if err != nil {
		return "", 0, err
	}

	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, s.contextWindowSize)
	if err != nil {
		return "", 0, err
	}

	// provider expects ASC
	providerMsgs := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		providerMsgs = append(providerMsgs, ai.Message{Role: m.Role, Content: m.Content})
	}

	reply, err := provider.Chat(ctx, providerMsgs)
	if err != nil {
		return "", 0, err
	}

	assistantMsg := &Message{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   reply,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		return "", 0, err
	}

	s.reportUsage(ctx, sess)

	return reply, assistantMsg.ID, nil
}

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}
