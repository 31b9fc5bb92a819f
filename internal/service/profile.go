package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"companion-backend/internal/config"
	"companion-backend/internal/model"
	"companion-backend/internal/storage"
	"companion-backend/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

const defaultLevelStep = 100

// ProfileService keeps the gamification state: experience points, level
// and interest counters. Award and track operations serialize on a mutex
// so concurrent turns cannot lose updates.
type ProfileService struct {
	storage   storage.Storage
	chatModel einoModel.ChatModel
	cfg       *config.Config

	mu sync.Mutex
}

func NewProfileService(store storage.Storage, chatModel einoModel.ChatModel, cfg *config.Config) *ProfileService {
	return &ProfileService{
		storage:   store,
		chatModel: chatModel,
		cfg:       cfg,
	}
}

func (s *ProfileService) levelStep() int {
	if s.cfg != nil && s.cfg.Gamification.LevelStep > 0 {
		return s.cfg.Gamification.LevelStep
	}
	return defaultLevelStep
}

// Profile returns the stored profile, or a fresh level-1 profile when none
// has been saved yet.
func (s *ProfileService) Profile() (*model.UserProfile, error) {
	prof, err := s.storage.GetProfile()
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if prof == nil {
		prof = &model.UserProfile{Level: 1}
	}
	if prof.Level < 1 {
		prof.Level = 1
	}
	return prof, nil
}

// AwardXP adds points to the profile and applies at most one level-up: if
// the new total reaches level*step, the level increments exactly once no
// matter how far past the threshold the award lands. Returns whether a
// level-up happened.
func (s *ProfileService) AwardXP(points int) (bool, *model.UserProfile, error) {
	if points <= 0 {
		prof, err := s.Profile()
		return false, prof, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prof, err := s.Profile()
	if err != nil {
		return false, nil, err
	}

	prof.XP += points
	leveled := false
	if prof.XP >= prof.Level*s.levelStep() {
		prof.Level++
		leveled = true
	}
	prof.UpdatedAt = time.Now()

	if err := s.storage.SaveProfile(prof); err != nil {
		return false, nil, fmt.Errorf("save profile: %w", err)
	}
	if leveled {
		logger.Infof("Profile reached level %d (xp=%d)", prof.Level, prof.XP)
	}
	return leveled, prof, nil
}

// TrackInterest bumps the counter for a topic category.
func (s *ProfileService) TrackInterest(category string) error {
	if category == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prof, err := s.Profile()
	if err != nil {
		return err
	}
	if prof.Interests == nil {
		prof.Interests = make(map[string]int)
	}
	prof.Interests[category]++
	prof.UpdatedAt = time.Now()

	if err := s.storage.SaveProfile(prof); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// TopInterest returns the most-tracked category, empty when nothing has
// been tracked. Ties break on category name for stable output.
func (s *ProfileService) TopInterest() (string, error) {
	prof, err := s.Profile()
	if err != nil {
		return "", err
	}

	top := ""
	best := 0
	for category, count := range prof.Interests {
		if count > best || (count == best && (top == "" || category < top)) {
			top = category
			best = count
		}
	}
	return top, nil
}

const celebrationFallback = "Congratulations, you leveled up! Keep it going!"

// Celebrate appends a model-written level-up message to the session. It
// runs outside any turn lifecycle: failures fall back to a fixed line and
// never surface to the caller's turn.
func (s *ProfileService) Celebrate(sessionID string, level int) {
	text := celebrationFallback
	if s.chatModel != nil {
		prompt := s.cfg.Chat.CelebrationPrompt
		if prompt == "" {
			prompt = "Write one short, warm sentence congratulating the user on reaching level %d."
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := s.chatModel.Generate(ctx, []*schema.Message{
			schema.SystemMessage(s.cfg.Chat.SystemPrompt),
			schema.UserMessage(fmt.Sprintf(prompt, level)),
		})
		if err != nil {
			logger.Warnf("Celebration generation failed: %v", err)
		} else if resp != nil && resp.Content != "" {
			text = resp.Content
		}
	}

	msg := &model.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Parts:     []model.MessagePart{model.TextPart(text)},
		Timestamp: time.Now(),
	}
	if err := s.storage.AddMessage(sessionID, msg); err != nil {
		logger.Warnf("Failed to append celebration message to session %s: %v", sessionID, err)
	}
}
