// Package conversation drives one participant message through the full
// pipeline: session resolution, history loading, the LLM call, moderation,
// and transcript logging.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crtlab/crtchat/internal/llm/provider"
	"github.com/crtlab/crtchat/internal/moderation"
	"github.com/crtlab/crtchat/internal/session"
	"github.com/crtlab/crtchat/internal/transcript"
	"github.com/crtlab/crtchat/pkg/observability"
	"github.com/crtlab/crtchat/pkg/retry"
)

// ErrUpstreamUnavailable is returned when the LLM provider kept failing
// past the retry budget. Callers surface it as a generic "try again".
var ErrUpstreamUnavailable = errors.New("language model upstream unavailable")

// Reply is the outcome of one processed message.
type Reply struct {
	SessionID string
	Arm       session.Arm
	Text      string
	Outcome   moderation.Outcome
	// Degraded is set when history could not be fully loaded and the
	// reply was produced with partial context.
	Degraded bool
}

// Service processes participant messages. Messages for the same session
// are strictly serialized; distinct sessions proceed concurrently.
type Service struct {
	registry  *session.Registry
	assigner  *session.Assigner
	llm       provider.Provider
	moderator *moderation.Moderator
	store     transcript.Store
	cache     *transcript.HistoryCache
	requeue   *transcript.Requeue
	locks     *session.Locks

	llmRetry   retry.Policy
	storeRetry retry.Policy

	// seqs tracks the next sequence number handed out per session, so
	// numbering stays gapless even when rows are parked and history
	// reads lag behind.
	seqMu sync.Mutex
	seqs  map[string]int

	task        moderation.Task
	model       string
	temperature float32
	maxTokens   int
}

// ServiceOptions configures a Service. Registry, Assigner, LLM, Moderator
// and Store are required; Cache and Requeue are optional.
type ServiceOptions struct {
	Registry  *session.Registry
	Assigner  *session.Assigner
	LLM       provider.Provider
	Moderator *moderation.Moderator
	Store     transcript.Store
	Cache     *transcript.HistoryCache
	Requeue   *transcript.Requeue

	LLMRetry   retry.Policy
	StoreRetry retry.Policy

	Task        moderation.Task
	Model       string
	Temperature float32
	MaxTokens   int
}

// NewService wires the conversation pipeline.
func NewService(opts ServiceOptions) (*Service, error) {
	switch {
	case opts.Registry == nil:
		return nil, fmt.Errorf("registry is required")
	case opts.Assigner == nil:
		return nil, fmt.Errorf("assigner is required")
	case opts.LLM == nil:
		return nil, fmt.Errorf("llm provider is required")
	case opts.Moderator == nil:
		return nil, fmt.Errorf("moderator is required")
	case opts.Store == nil:
		return nil, fmt.Errorf("transcript store is required")
	}

	llmRetry := opts.LLMRetry
	if llmRetry.MaxAttempts == 0 {
		llmRetry = retry.DefaultPolicy()
	}
	llmRetry.Retryable = provider.IsRetryable

	storeRetry := opts.StoreRetry
	if storeRetry.MaxAttempts == 0 {
		storeRetry = retry.DefaultPolicy()
	}
	storeRetry.Retryable = func(err error) bool {
		return errors.Is(err, transcript.ErrStoreUnavailable)
	}

	return &Service{
		registry:    opts.Registry,
		assigner:    opts.Assigner,
		llm:         opts.LLM,
		moderator:   opts.Moderator,
		store:       opts.Store,
		cache:       opts.Cache,
		requeue:     opts.Requeue,
		locks:       session.NewLocks(),
		seqs:        make(map[string]int),
		llmRetry:    llmRetry,
		storeRetry:  storeRetry,
		task:        opts.Task,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// StartSession creates a session and logs its creation row. tag is the
// embedding survey's participant id, recorded alongside the session id so
// the survey record and the transcript can be joined later.
func (s *Service) StartSession(ctx context.Context, tag string) (*session.Session, error) {
	sess, err := s.createSession()
	if err != nil {
		return nil, err
	}

	content := "session_created:" + sess.ID
	if tag != "" {
		content += " pid:" + tag
	}
	s.appendOrPark(ctx, sess.ID, transcript.SessionRow(sess, content))
	return sess, nil
}

func (s *Service) createSession() (*session.Session, error) {
	sess, err := s.registry.Create()
	if err != nil {
		return nil, err
	}
	observability.SetActiveSessions(s.registry.Len())
	return sess, nil
}

// Converse processes one participant message end to end and blocks until
// the moderated reply is ready. An empty sessionID creates a new session.
func (s *Service) Converse(ctx context.Context, sessionID, userMsg string) (*Reply, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "conversation.converse")
	defer span.End()

	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		observability.RecordConversation("unknown", "rejected", time.Since(start))
		return nil, err
	}
	span.SetAttributes(
		observability.SpanAttr("session.id", sess.ID),
		observability.SpanAttr("session.arm", string(sess.Arm)),
	)

	// Serialize per session so sequence numbers and history cannot race.
	release := s.locks.Acquire(sess.ID)
	defer release()

	history, degraded := s.loadHistory(ctx, sess.ID)
	nextSeq := s.reserveSeq(sess.ID, nextSequence(history), 2)

	armCfg, err := s.assigner.Config(sess.Arm)
	if err != nil {
		return nil, fmt.Errorf("arm configuration: %w", err)
	}
	prompt := s.moderator.Builder().Build(armCfg, conversational(history), userMsg)

	raw, err := s.complete(ctx, prompt)
	if err != nil {
		observability.RecordConversation(string(sess.Arm), "upstream_error", time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	result := s.moderator.Moderate(ctx, raw, prompt, s.task)
	observability.RecordModerationOutcome(string(result.Outcome))

	now := time.Now().UTC()
	userTurn := session.Turn{SessionID: sess.ID, Seq: nextSeq, Role: session.RoleUser, Content: userMsg, Timestamp: now}
	botTurn := session.Turn{SessionID: sess.ID, Seq: nextSeq + 1, Role: session.RoleAssistant, Content: result.Reply, Timestamp: now}

	// The store must never miss a turn the LLM already produced, even if
	// the caller disconnects before we return.
	s.appendOrPark(ctx, sess.ID,
		transcript.FromTurn(userTurn, sess.Arm),
		transcript.FromTurn(botTurn, sess.Arm),
	)
	s.cacheTurns(ctx, sess.ID, userTurn, botTurn)

	observability.RecordConversation(string(sess.Arm), "ok", time.Since(start))
	return &Reply{
		SessionID: sess.ID,
		Arm:       sess.Arm,
		Text:      result.Reply,
		Outcome:   result.Outcome,
		Degraded:  degraded,
	}, nil
}

// resolveSession maps an incoming identifier to a live session. An empty
// id creates a new session without a creation row, so a first message
// logs exactly its user and assistant turns; a well-formed unknown id is
// rebuilt from the transcript store, registering it fresh when the store
// has no trace.
func (s *Service) resolveSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return s.createSession()
	}

	sess, err := s.registry.Resolve(sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}

	rows, replayErr := s.store.Replay(ctx, sessionID)
	if replayErr == nil && len(rows) > 0 {
		return s.registry.Restore(sessionID, rows[0].Arm, rows[0].Timestamp)
	}
	if replayErr != nil {
		log.Printf("conversation: replay for unknown session %s failed: %v", sessionID, replayErr)
	}

	// Nothing on record: treat it as a session issued before a restart
	// whose creation row was lost, and assign it an arm normally.
	arm, assignErr := s.assigner.Assign(sessionID)
	if assignErr != nil {
		return nil, assignErr
	}
	return s.registry.Restore(sessionID, arm, time.Now().UTC())
}

// loadHistory returns the session's turns in order. It prefers the Redis
// cache, falls back to replaying the store, and degrades to empty history
// rather than failing the request.
func (s *Service) loadHistory(ctx context.Context, sessionID string) ([]session.Turn, bool) {
	if s.cache != nil {
		turns, err := s.cache.Load(ctx, sessionID)
		if err != nil {
			log.Printf("conversation: history cache unavailable for %s: %v", sessionID, err)
		} else if len(turns) > 0 {
			return turns, false
		}
	}

	rows, err := s.store.Replay(ctx, sessionID)
	if err != nil {
		log.Printf("conversation: degraded mode, replay failed for %s: %v", sessionID, err)
		observability.RecordDegradedHistory()
		return nil, true
	}

	turns := make([]session.Turn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, row.ToTurn())
	}
	if s.cache != nil && len(turns) > 0 {
		if err := s.cache.Replace(ctx, sessionID, turns); err != nil {
			log.Printf("conversation: history cache refill for %s failed: %v", sessionID, err)
		}
	}
	return turns, false
}

// complete calls the LLM under the retry policy.
func (s *Service) complete(ctx context.Context, prompt []provider.Message) (string, error) {
	var content string
	err := s.llmRetry.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		resp, err := s.llm.Complete(ctx, provider.Request{
			Model:       s.model,
			Messages:    prompt,
			Temperature: s.temperature,
			MaxTokens:   s.maxTokens,
		})
		if err != nil {
			observability.RecordLLMCall(s.llm.Name(), "error", time.Since(start))
			return err
		}
		observability.RecordLLMCall(s.llm.Name(), "ok", time.Since(start))
		content = resp.Content
		return nil
	})
	return content, err
}

// appendOrPark appends rows under the retry policy, then flushes. Rows
// that still fail are parked for asynchronous re-append so they are not
// lost, and the participant still gets a reply.
func (s *Service) appendOrPark(ctx context.Context, sessionID string, rows ...transcript.Row) {
	// Detached from the request so a client disconnect cannot abandon
	// logging, but still bounded by the retry policy's backoff.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	err := s.storeRetry.Do(logCtx, func(ctx context.Context) error {
		if err := s.store.Append(ctx, rows); err != nil {
			return err
		}
		return s.store.Flush(ctx)
	})
	if err == nil {
		observability.RecordStoreAppend("ok")
		return
	}

	observability.RecordStoreAppend("parked")
	log.Printf("conversation: transcript append for %s exhausted retries, parking %d rows: %v", sessionID, len(rows), err)
	if s.requeue != nil {
		s.requeue.Park(rows...)
	}
}

// cacheTurns updates the history cache, best effort.
func (s *Service) cacheTurns(ctx context.Context, sessionID string, turns ...session.Turn) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Append(ctx, sessionID, turns...); err != nil {
		log.Printf("conversation: history cache append for %s failed: %v", sessionID, err)
	}
}

// reserveSeq hands out n consecutive sequence numbers for a session,
// starting no lower than fromHistory.
func (s *Service) reserveSeq(sessionID string, fromHistory, n int) int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	next := s.seqs[sessionID]
	if fromHistory > next {
		next = fromHistory
	}
	s.seqs[sessionID] = next + n
	return next
}

// nextSequence returns the sequence number for the next turn given the
// turns on record. Synthetic session rows carry no turn sequence and are
// ignored, so turns number from 0.
func nextSequence(history []session.Turn) int {
	next := 0
	for _, t := range history {
		if t.Role != session.RoleUser && t.Role != session.RoleAssistant {
			continue
		}
		if t.Seq >= next {
			next = t.Seq + 1
		}
	}
	return next
}

// conversational filters out synthetic session rows so prompts contain
// only user and assistant turns.
func conversational(history []session.Turn) []session.Turn {
	turns := make([]session.Turn, 0, len(history))
	for _, t := range history {
		if t.Role == session.RoleUser || t.Role == session.RoleAssistant {
			turns = append(turns, t)
		}
	}
	return turns
}
