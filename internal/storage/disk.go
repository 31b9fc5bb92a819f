package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"companion-backend/internal/model"
	"companion-backend/pkg/logger"
)

type DiskStorage struct {
	dataDir    string
	mu         sync.RWMutex
	cache      map[string]*model.Session
	cacheSize  int
	quotaBytes int64
}

type SessionIndex struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Mode      string    `json:"mode,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDiskStorage creates a JSON-file backed store. quotaBytes bounds the
// size of any single serialized write; zero disables the check.
func NewDiskStorage(dataDir string, cacheSize int, quotaBytes int64) *DiskStorage {
	return &DiskStorage{
		dataDir:    dataDir,
		cache:      make(map[string]*model.Session),
		cacheSize:  cacheSize,
		quotaBytes: quotaBytes,
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadSessions(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk storage initialized successfully")
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "sessions"),
		filepath.Join(d.dataDir, "messages"),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

func (d *DiskStorage) loadSessions() error {
	indexPath := filepath.Join(d.dataDir, "sessions.json")

	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return d.saveSessionIndex([]*SessionIndex{})
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return err
	}

	var indexes []*SessionIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return err
	}

	for _, index := range indexes {
		if len(d.cache) >= d.cacheSize {
			break
		}

		session, err := d.loadSessionFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load session %s: %v", index.ID, err)
			continue
		}

		d.cache[index.ID] = session
	}

	return nil
}

func (d *DiskStorage) loadSessionFromFile(sessionID string) (*model.Session, error) {
	sessionPath := filepath.Join(d.dataDir, "sessions", sessionID+".json")

	data, err := os.ReadFile(sessionPath)
	if err != nil {
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}

	messages, err := d.loadMessagesFromFile(sessionID)
	if err != nil {
		logger.Errorf("Failed to load messages for session %s: %v", sessionID, err)
		messages = []model.Message{}
	}

	session.Messages = messages
	return &session, nil
}

func (d *DiskStorage) loadMessagesFromFile(sessionID string) ([]model.Message, error) {
	messagesPath := filepath.Join(d.dataDir, "messages", sessionID+".json")

	if _, err := os.Stat(messagesPath); os.IsNotExist(err) {
		return []model.Message{}, nil
	}

	data, err := os.ReadFile(messagesPath)
	if err != nil {
		return nil, err
	}

	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// writeJSON marshals v and writes it atomically, enforcing the quota.
func (d *DiskStorage) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if d.quotaBytes > 0 && int64(len(data)) > d.quotaBytes {
		return fmt.Errorf("%w: %d bytes for %s", ErrQuotaExceeded, len(data), filepath.Base(path))
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

func (d *DiskStorage) saveSessionIndex(indexes []*SessionIndex) error {
	return d.writeJSON(filepath.Join(d.dataDir, "sessions.json"), indexes)
}

func (d *DiskStorage) saveSessionToFile(session *model.Session) error {
	sessionData := *session
	sessionData.Messages = nil

	return d.writeJSON(filepath.Join(d.dataDir, "sessions", session.ID+".json"), sessionData)
}

func (d *DiskStorage) saveMessagesToFile(sessionID string, messages []model.Message) error {
	return d.writeJSON(filepath.Join(d.dataDir, "messages", sessionID+".json"), messages)
}

func (d *DiskStorage) CreateSession(session *model.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The cache is updated before the write is checked so that a quota
	// failure never rolls back in-memory state.
	d.cache[session.ID] = session
	d.evictCache()

	if err := d.saveSessionToFile(session); err != nil {
		return d.wrapWriteError(err)
	}

	if err := d.saveMessagesToFile(session.ID, session.Messages); err != nil {
		return d.wrapWriteError(err)
	}

	return d.updateSessionIndex()
}

func (d *DiskStorage) GetSession(sessionID string) (*model.Session, error) {
	d.mu.RLock()
	if session, exists := d.cache[sessionID]; exists {
		d.mu.RUnlock()
		return session, nil
	}
	d.mu.RUnlock()

	session, err := d.loadSessionFromFile(sessionID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.mu.Lock()
	d.cache[sessionID] = session
	d.evictCache()
	d.mu.Unlock()

	return session, nil
}

func (d *DiskStorage) UpdateSession(session *model.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, cached := d.cache[session.ID]; !cached {
		if _, err := d.loadSessionFromFile(session.ID); err != nil {
			if os.IsNotExist(err) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	d.cache[session.ID] = session

	if err := d.saveSessionToFile(session); err != nil {
		return d.wrapWriteError(err)
	}

	if err := d.saveMessagesToFile(session.ID, session.Messages); err != nil {
		return d.wrapWriteError(err)
	}

	return d.updateSessionIndex()
}

func (d *DiskStorage) DeleteSession(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sessionPath := filepath.Join(d.dataDir, "sessions", sessionID+".json")
	messagesPath := filepath.Join(d.dataDir, "messages", sessionID+".json")

	_, statErr := os.Stat(sessionPath)
	_, cached := d.cache[sessionID]
	if os.IsNotExist(statErr) && !cached {
		return ErrSessionNotFound
	}

	if statErr == nil {
		if err := os.Remove(sessionPath); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	if _, err := os.Stat(messagesPath); err == nil {
		if err := os.Remove(messagesPath); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	delete(d.cache, sessionID)

	return d.updateSessionIndex()
}

func (d *DiskStorage) ListSessions() ([]*model.Session, error) {
	indexPath := filepath.Join(d.dataDir, "sessions.json")

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var indexes []*SessionIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	sessions := make([]*model.Session, 0, len(indexes))
	for _, index := range indexes {
		sessions = append(sessions, &model.Session{
			ID:        index.ID,
			Title:     index.Title,
			Mode:      index.Mode,
			CreatedAt: index.CreatedAt,
			UpdatedAt: index.UpdatedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

func (d *DiskStorage) AddMessage(sessionID string, message *model.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, exists := d.cache[sessionID]
	if !exists {
		var err error
		session, err = d.loadSessionFromFile(sessionID)
		if err != nil {
			if os.IsNotExist(err) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		d.cache[sessionID] = session
	}

	session.Messages = append(session.Messages, *message)
	session.UpdatedAt = time.Now()

	if err := d.saveMessagesToFile(sessionID, session.Messages); err != nil {
		return d.wrapWriteError(err)
	}

	if err := d.saveSessionToFile(session); err != nil {
		return d.wrapWriteError(err)
	}

	return d.updateSessionIndex()
}

func (d *DiskStorage) GetMessages(sessionID string) ([]*model.Message, error) {
	session, err := d.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	messages := make([]*model.Message, len(session.Messages))
	for i := range session.Messages {
		messages[i] = &session.Messages[i]
	}

	return messages, nil
}

func (d *DiskStorage) ReplaceMessages(sessionID string, messages []model.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, exists := d.cache[sessionID]
	if !exists {
		var err error
		session, err = d.loadSessionFromFile(sessionID)
		if err != nil {
			if os.IsNotExist(err) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		d.cache[sessionID] = session
	}

	session.Messages = messages
	session.UpdatedAt = time.Now()

	if err := d.saveMessagesToFile(sessionID, session.Messages); err != nil {
		return d.wrapWriteError(err)
	}

	return d.saveSessionToFile(session)
}

func (d *DiskStorage) GetProfile() (*model.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(d.dataDir, "profile.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var profile model.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return &profile, nil
}

func (d *DiskStorage) SaveProfile(profile *model.UserProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeJSON(filepath.Join(d.dataDir, "profile.json"), profile); err != nil {
		return d.wrapWriteError(err)
	}
	return nil
}

func (d *DiskStorage) GetTasks() ([]model.Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(d.dataDir, "tasks.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Task{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var tasks []model.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return tasks, nil
}

func (d *DiskStorage) SaveTasks(tasks []model.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeJSON(filepath.Join(d.dataDir, "tasks.json"), tasks); err != nil {
		return d.wrapWriteError(err)
	}
	return nil
}

func (d *DiskStorage) GetSettings() (*model.AppSettings, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(d.dataDir, "settings.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var settings model.AppSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return &settings, nil
}

func (d *DiskStorage) SaveSettings(settings *model.AppSettings) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeJSON(filepath.Join(d.dataDir, "settings.json"), settings); err != nil {
		return d.wrapWriteError(err)
	}
	return nil
}

func (d *DiskStorage) updateSessionIndex() error {
	sessionsDir := filepath.Join(d.dataDir, "sessions")

	files, err := os.ReadDir(sessionsDir)
	if err != nil {
		return err
	}

	var indexes []*SessionIndex
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		sessionID := file.Name()[:len(file.Name())-5]
		session, err := d.loadSessionFromFile(sessionID)
		if err != nil {
			logger.Errorf("Failed to load session %s for index update: %v", sessionID, err)
			continue
		}

		indexes = append(indexes, &SessionIndex{
			ID:        session.ID,
			Title:     session.Title,
			Mode:      session.Mode,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
		})
	}

	return d.saveSessionIndex(indexes)
}

// wrapWriteError keeps quota failures recognizable with errors.Is while
// wrapping everything else as a file operation failure.
func (d *DiskStorage) wrapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrFileOperation, err)
}

func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}

	var entries []cacheEntry
	for id, session := range d.cache {
		entries = append(entries, cacheEntry{
			id:        id,
			updatedAt: session.UpdatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.Session)
	return nil
}

func (d *DiskStorage) Backup() error {
	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().Unix()))

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	sourceDirs := []string{"sessions", "messages"}
	for _, dir := range sourceDirs {
		srcDir := filepath.Join(d.dataDir, dir)
		dstDir := filepath.Join(backupDir, dir)

		if err := os.MkdirAll(dstDir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}

		if err := d.copyDir(srcDir, dstDir); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	for _, name := range []string{"sessions.json", "profile.json", "tasks.json", "settings.json"} {
		src := filepath.Join(d.dataDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := d.copyFile(src, filepath.Join(backupDir, name)); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}

func (d *DiskStorage) copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, file := range files {
		srcPath := filepath.Join(src, file.Name())
		dstPath := filepath.Join(dst, file.Name())

		if err := d.copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}

	return nil
}

func (d *DiskStorage) copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0644)
}
