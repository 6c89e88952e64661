// Package service provides the session registry and the prompt orchestration
// state machine.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/cost-estimator/internal/diagram"
	"github.com/capitalize-ai/cost-estimator/internal/model"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
	"github.com/capitalize-ai/cost-estimator/pkg/metrics"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy is returned when a turn is already running on the session.
	ErrSessionBusy = errors.New("session is busy")
	ErrInvalidMode = errors.New("invalid session mode")
)

// State is a session's position in the protocol.
type State string

const (
	StateIdle               State = "idle"
	StateImageReceived      State = "image_received"
	StateServicesIdentified State = "services_identified"
	StateResultDisplayed    State = "result_displayed"
	StateFollowUp           State = "follow_up"
)

// Session is the state owned by one user connection.
type Session struct {
	ID        string
	UserID    string
	Mode      model.Mode
	CreatedAt time.Time

	// turn is held for the whole of a turn; there is one thread of control
	// per session.
	turn sync.Mutex

	mu             sync.RWMutex
	state          State
	selection      *model.ArchitectureSelection
	image          *diagram.Image
	stage1         []model.Message
	identification string
	conversation   *model.Conversation
	result         *model.Result
	turns          []model.Turn
	updatedAt      time.Time
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func newSession(userID string, mode model.Mode, sel *model.ArchitectureSelection) *Session {
	now := time.Now()
	s := &Session{
		ID:           newID(),
		UserID:       userID,
		Mode:         mode,
		CreatedAt:    now,
		state:        StateIdle,
		conversation: model.NewConversation(newID()),
		updatedAt:    now,
	}
	if sel != nil {
		c := *sel
		s.selection = &c
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Conversation returns the session's current conversation.
func (s *Session) Conversation() *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversation
}

// Selection returns a copy of the architecture selection, or nil.
func (s *Session) Selection() *model.ArchitectureSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selection == nil {
		return nil
	}
	c := *s.selection
	return &c
}

// Result returns the stage-2 result, or nil before ResultDisplayed.
func (s *Session) Result() *model.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Turns returns a copy of the turn log.
func (s *Session) Turns() []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Turn(nil), s.turns...)
}

func (s *Session) lastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *Session) setState(state State) {
	s.state = state
	s.updatedAt = time.Now()
	metrics.RecordTransition(string(state))
}

func (s *Session) recordTurn(stage model.Stage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := model.Turn{Stage: stage, Status: model.TurnOK, At: time.Now()}
	if err != nil {
		t.Status = model.TurnFailed
		t.Error = err.Error()
	}
	s.turns = append(s.turns, t)
	s.updatedAt = t.At
}

// View returns the display form of the session.
func (s *Session) View() *model.SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := &model.SessionView{
		ID:             s.ID,
		Mode:           s.Mode,
		State:          string(s.state),
		Identification: s.identification,
		Result:         s.result,
		MessageCount:   s.conversation.Len(),
		Turns:          append([]model.Turn{}, s.turns...),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.updatedAt,
	}
	if s.selection != nil {
		c := *s.selection
		v.Selection = &c
	}
	if s.image != nil {
		info := s.image.Info
		v.Image = &info
	}
	return v
}

// SessionService keeps sessions in memory. Nothing survives a restart.
type SessionService struct {
	publisher   EventPublisher
	logger      *logger.Logger
	idleTimeout time.Duration

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionService creates a new session service. An idleTimeout of 0 keeps
// sessions until they are deleted.
func NewSessionService(publisher EventPublisher, idleTimeout time.Duration, log *logger.Logger) *SessionService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &SessionService{
		publisher:   publisher,
		logger:      log,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a new session in the Idle state.
func (s *SessionService) Create(ctx context.Context, userID string, req *model.CreateSessionRequest) (*Session, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.ModeEstimate
	}
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}
	if req.Selection != nil {
		if err := req.Selection.Validate(); err != nil {
			return nil, err
		}
	}

	sess := newSession(userID, mode, req.Selection)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	active := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.String("mode", string(mode)),
	)

	return sess, nil
}

// Get retrieves a session owned by userID.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	s.mu.RLock()
	sess, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists || sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// UpdateSelection replaces the session's architecture selection. It applies
// to the next upload.
func (s *SessionService) UpdateSelection(ctx context.Context, userID, sessionID string, sel model.ArchitectureSelection) (*Session, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	sess.selection = &sel
	sess.updatedAt = time.Now()
	sess.mu.Unlock()

	return sess, nil
}

// Delete ends a session and discards its history.
func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	sess, exists := s.sessions[sessionID]
	if !exists || sess.UserID != userID {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	active := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	s.ended(ctx, sess, "deleted")
	return nil
}

// Sweep removes sessions idle since before now-idleTimeout and returns how
// many were removed.
func (s *SessionService) Sweep(ctx context.Context, now time.Time) int {
	if s.idleTimeout <= 0 {
		return 0
	}

	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if now.Sub(sess.lastActive()) > s.idleTimeout {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	for _, sess := range expired {
		s.ended(ctx, sess, "idle")
	}
	return len(expired)
}

// Run sweeps idle sessions every interval until ctx is done.
func (s *SessionService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(ctx, now); n > 0 {
				s.logger.Info("expired idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *SessionService) ended(ctx context.Context, sess *Session, reason string) {
	s.logger.Info("session ended", zap.String("session_id", sess.ID), zap.String("reason", reason))
	publish(ctx, s.publisher, s.logger, sess, model.EventSessionEnded, "", reason, nil)
}
