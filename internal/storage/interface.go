package storage

import (
	"companion-backend/internal/model"
)

type Storage interface {
	// Session management
	CreateSession(session *model.Session) error
	GetSession(sessionID string) (*model.Session, error)
	UpdateSession(session *model.Session) error
	DeleteSession(sessionID string) error
	ListSessions() ([]*model.Session, error)

	// Message management
	AddMessage(sessionID string, message *model.Message) error
	GetMessages(sessionID string) ([]*model.Message, error)
	ReplaceMessages(sessionID string, messages []model.Message) error

	// Process-wide records
	GetProfile() (*model.UserProfile, error)
	SaveProfile(profile *model.UserProfile) error
	GetTasks() ([]model.Task, error)
	SaveTasks(tasks []model.Task) error
	GetSettings() (*model.AppSettings, error)
	SaveSettings(settings *model.AppSettings) error

	// Lifecycle
	Init() error
	Close() error
	Backup() error
}
