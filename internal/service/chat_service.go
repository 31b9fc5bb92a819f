package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"companion-backend/internal/config"
	"companion-backend/internal/model"
	"companion-backend/internal/storage"
	"companion-backend/pkg/logger"
)

const defaultSessionTitle = "New Chat"

// titleRuneLimit bounds session titles derived from the first user message;
// longer messages are cut to titleKeepRunes runes plus an ellipsis.
const (
	titleRuneLimit = 30
	titleKeepRunes = 27
)

// ChatService owns the session registry and drives streaming turns end to
// end: session resolution, turn execution, reconciliation back into
// storage, and the post-turn gamification hooks.
type ChatService struct {
	storage  storage.Storage
	cfg      *config.Config
	turns    *TurnController
	profiles *ProfileService

	mu            sync.RWMutex
	currentID     string
	playbackStop  func()
	quotaWarnOnce sync.Once

	stopCh chan struct{}
}

func NewChatService(store storage.Storage, cfg *config.Config, turns *TurnController, profiles *ProfileService) *ChatService {
	s := &ChatService{
		storage:  store,
		cfg:      cfg,
		turns:    turns,
		profiles: profiles,
		stopCh:   make(chan struct{}),
	}
	if cfg.Session.TTL > 0 && cfg.Session.CleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

func (s *ChatService) Close() {
	close(s.stopCh)
}

// SetPlaybackStopper registers the hook invoked when the active session
// changes, so any in-progress audio playback is cancelled.
func (s *ChatService) SetPlaybackStopper(stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playbackStop = stop
}

func (s *ChatService) CreateSession(title, mode string) (*model.Session, error) {
	if title == "" {
		title = defaultSessionTitle
	}
	now := time.Now()
	session := &model.Session{
		ID:        fmt.Sprintf("%d", now.UnixNano()),
		Title:     title,
		Mode:      mode,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.storage.CreateSession(session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	logger.Infof("Created session %s", session.ID)
	return session, nil
}

func (s *ChatService) GetSession(sessionID string) (*model.Session, error) {
	return s.storage.GetSession(sessionID)
}

func (s *ChatService) GetSessionMessages(sessionID string) ([]*model.Message, error) {
	return s.storage.GetMessages(sessionID)
}

// ListSessions returns all sessions most-recent-first.
func (s *ChatService) ListSessions() ([]*model.Session, error) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// SelectSession makes sessionID the active session and stops any running
// audio playback from the previous one.
func (s *ChatService) SelectSession(sessionID string) (*model.Session, error) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.currentID = sessionID
	stop := s.playbackStop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	return session, nil
}

// CurrentSessionID returns the active session id, empty when none selected.
func (s *ChatService) CurrentSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

func (s *ChatService) RenameSession(sessionID, title string) (*model.Session, error) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	session.Title = title
	session.UpdatedAt = time.Now()
	if err := s.writeSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session. A turn still streaming for it keeps
// running detached: its reconcile will find the session gone and discard
// the result instead of resurrecting it.
func (s *ChatService) DeleteSession(sessionID string) error {
	if err := s.storage.DeleteSession(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.currentID == sessionID {
		s.currentID = ""
	}
	s.mu.Unlock()

	logger.Infof("Deleted session %s", sessionID)
	return nil
}

func (s *ChatService) ClearAllSessions() error {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if err := s.storage.DeleteSession(session.ID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.currentID = ""
	s.mu.Unlock()
	return nil
}

// Reconcile writes a full message list back into a session, creating the
// session when it does not exist. The stored copy is always sanitized:
// history is capped and inline media blanked. New sessions near the start
// of a conversation get their title derived from the first user message.
func (s *ChatService) Reconcile(sessionID string, messages []model.Message) (*model.Session, error) {
	now := time.Now()

	session, err := s.storage.GetSession(sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		session = &model.Session{
			ID:        sessionID,
			Title:     defaultSessionTitle,
			CreatedAt: now,
		}
		if err := s.storage.CreateSession(session); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	session.Messages = SanitizeMessages(messages, s.historyLimit())
	session.UpdatedAt = now
	// Titles derive from the first user message on the first completed
	// turn only; renames and established titles are never overwritten.
	if (session.Title == "" || session.Title == defaultSessionTitle) && len(session.Messages) <= 2 {
		if title := deriveTitle(session.Messages); title != "" {
			session.Title = title
		}
	}

	if err := s.writeSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// writeSession persists a session, absorbing quota exhaustion: the session
// stays live in memory, the user is warned once, and the caller proceeds.
func (s *ChatService) writeSession(session *model.Session) error {
	err := s.storage.UpdateSession(session)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrQuotaExceeded) {
		s.quotaWarnOnce.Do(func() {
			logger.Warnf("Storage quota exceeded; chat history is no longer being saved: %v", err)
		})
		return nil
	}
	return fmt.Errorf("update session: %w", err)
}

func (s *ChatService) historyLimit() int {
	if s.cfg != nil && s.cfg.Chat.HistoryLimit > 0 {
		return s.cfg.Chat.HistoryLimit
	}
	return DefaultHistoryLimit
}

// deriveTitle builds a session title from the first user message.
func deriveTitle(messages []model.Message) string {
	for i := range messages {
		if messages[i].Role != model.RoleUser {
			continue
		}
		text := messages[i].Text()
		runes := []rune(text)
		if len(runes) <= titleRuneLimit {
			return text
		}
		return string(runes[:titleKeepRunes]) + "..."
	}
	return ""
}

// GetSettings returns the stored app settings, or defaults when none have
// been saved.
func (s *ChatService) GetSettings() (*model.AppSettings, error) {
	settings, err := s.storage.GetSettings()
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = &model.AppSettings{MemoryEnabled: true, NotificationsEnabled: true}
	}
	return settings, nil
}

// UpdateSettings replaces the app settings. The next turn picks them up:
// the system instruction is rebuilt per turn, never cached.
func (s *ChatService) UpdateSettings(req *model.UpdateSettingsRequest) (*model.AppSettings, error) {
	settings := &model.AppSettings{
		Language:             req.Language,
		Tone:                 req.Tone,
		CustomInstruction:    req.CustomInstruction,
		MemoryEnabled:        req.MemoryEnabled,
		Voice:                req.Voice,
		NotificationsEnabled: req.NotificationsEnabled,
		RequirePasscode:      req.RequirePasscode,
		UpdatedAt:            time.Now(),
	}
	if err := s.storage.SaveSettings(settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

// StreamChat runs one streaming turn. Frames arrive on the response
// channel; the error channel carries only pre-turn failures and the typed
// no-ops (turn in flight, no model). Both channels close when the turn
// ends.
func (s *ChatService) StreamChat(req *model.ChatRequest) (<-chan model.ChatResponse, <-chan error) {
	respChan := make(chan model.ChatResponse, 32)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		sessionID := req.SessionID
		var history []model.Message
		if sessionID == "" {
			session, err := s.CreateSession("", "")
			if err != nil {
				errChan <- err
				return
			}
			sessionID = session.ID
		} else {
			msgs, err := s.storage.GetMessages(sessionID)
			if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
				errChan <- err
				return
			}
			for _, m := range msgs {
				history = append(history, *m)
			}
		}

		settings, err := s.storage.GetSettings()
		if err != nil {
			logger.Warnf("Failed to load settings, using defaults: %v", err)
			settings = nil
		}

		emit := func(u TurnUpdate) {
			frame := model.ChatResponse{
				SessionID: sessionID,
				MessageID: u.MessageID,
				Role:      u.Role,
				Content:   u.Content,
				Parts:     u.Parts,
				First:     u.First,
				Phase:     string(u.Phase),
				Timestamp: time.Now().UnixMilli(),
			}
			// Frames carry the full running buffer, so the oldest queued
			// frame is always superseded by the next one. When the consumer
			// stalls or disconnects, evict rather than block: a wedged emit
			// would hold the session's in-flight gate forever.
			for {
				select {
				case respChan <- frame:
					return
				default:
				}
				select {
				case <-respChan:
				default:
				}
			}
		}

		newMsgs, err := s.turns.SubmitTurn(context.Background(), sessionID, history, settings, req.Message, req.Image, emit)
		if err != nil {
			errChan <- err
			return
		}

		// The session may have been deleted while we were streaming; in
		// that case the turn finishes detached and nothing is written back.
		if _, err := s.storage.GetSession(sessionID); errors.Is(err, storage.ErrSessionNotFound) {
			logger.Infof("Session %s deleted mid-turn, discarding turn result", sessionID)
			return
		}

		if _, err := s.Reconcile(sessionID, append(history, newMsgs...)); err != nil {
			logger.Errorf("Failed to reconcile session %s after turn: %v", sessionID, err)
		}

		s.applyGamification(sessionID, req)
	}()

	return respChan, errChan
}

func (s *ChatService) applyGamification(sessionID string, req *model.ChatRequest) {
	if s.profiles == nil || (s.cfg != nil && !s.cfg.Gamification.Enabled) {
		return
	}

	if req.AwardXP > 0 {
		leveled, prof, err := s.profiles.AwardXP(req.AwardXP)
		if err != nil {
			logger.Warnf("Failed to award xp: %v", err)
		} else if leveled {
			// Celebration runs outside the turn lifecycle.
			go s.profiles.Celebrate(sessionID, prof.Level)
		}
	}
	if req.Interest != "" {
		if err := s.profiles.TrackInterest(req.Interest); err != nil {
			logger.Warnf("Failed to track interest %q: %v", req.Interest, err)
		}
	}
}

func (s *ChatService) cleanupLoop() {
	ticker := time.NewTicker(s.cfg.Session.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupOldSessions()
		case <-s.stopCh:
			return
		}
	}
}

func (s *ChatService) cleanupOldSessions() {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		logger.Errorf("Session cleanup: list failed: %v", err)
		return
	}

	cutoff := time.Now().Add(-s.cfg.Session.TTL)
	for _, session := range sessions {
		if session.UpdatedAt.After(cutoff) {
			continue
		}
		if s.turns != nil && s.turns.InFlight(session.ID) {
			continue
		}
		if err := s.storage.DeleteSession(session.ID); err != nil {
			logger.Errorf("Session cleanup: delete %s failed: %v", session.ID, err)
			continue
		}
		logger.Infof("Session cleanup: removed expired session %s", session.ID)
	}
}
