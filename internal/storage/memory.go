package storage

import (
	"sync"

	"companion-backend/internal/model"
)

type MemoryStorage struct {
	sessions map[string]*model.Session
	profile  *model.UserProfile
	tasks    []model.Task
	settings *model.AppSettings
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*model.Session),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) CreateSession(session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStorage) GetSession(sessionID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

func (m *MemoryStorage) UpdateSession(session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return ErrSessionNotFound
	}

	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStorage) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}

	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStorage) ListSessions() ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*model.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions, nil
}

func (m *MemoryStorage) AddMessage(sessionID string, message *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.Messages = append(session.Messages, *message)
	return nil
}

func (m *MemoryStorage) GetMessages(sessionID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	messages := make([]*model.Message, len(session.Messages))
	for i := range session.Messages {
		messages[i] = &session.Messages[i]
	}

	return messages, nil
}

func (m *MemoryStorage) ReplaceMessages(sessionID string, messages []model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.Messages = messages
	return nil
}

func (m *MemoryStorage) GetProfile() (*model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.profile == nil {
		return nil, nil
	}
	profile := *m.profile
	return &profile, nil
}

func (m *MemoryStorage) SaveProfile(profile *model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *profile
	m.profile = &copied
	return nil
}

func (m *MemoryStorage) GetTasks() ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]model.Task, len(m.tasks))
	copy(tasks, m.tasks)
	return tasks, nil
}

func (m *MemoryStorage) SaveTasks(tasks []model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks = make([]model.Task, len(tasks))
	copy(m.tasks, tasks)
	return nil
}

func (m *MemoryStorage) GetSettings() (*model.AppSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.settings == nil {
		return nil, nil
	}
	settings := *m.settings
	return &settings, nil
}

func (m *MemoryStorage) SaveSettings(settings *model.AppSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *settings
	m.settings = &copied
	return nil
}
