package storage

import (
	"testing"
	"time"

	"companion-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiskStorage(t *testing.T, quotaBytes int64) *DiskStorage {
	t.Helper()
	store := NewDiskStorage(t.TempDir(), 100, quotaBytes)
	require.NoError(t, store.Init())
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession(id, title string, updatedAt time.Time) *model.Session {
	return &model.Session{
		ID:    id,
		Title: title,
		Messages: []model.Message{
			{
				ID:    id + "-m1",
				Role:  model.RoleUser,
				Parts: []model.MessagePart{model.TextPart("hello")},
			},
		},
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestDiskStorageSessionRoundTrip(t *testing.T) {
	store := newTestDiskStorage(t, 0)

	session := testSession("s-1", "first chat", time.Now())
	require.NoError(t, store.CreateSession(session))

	got, err := store.GetSession("s-1")
	require.NoError(t, err)
	assert.Equal(t, "first chat", got.Title)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Text())

	_, err = store.GetSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDiskStorageSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store := NewDiskStorage(dir, 100, 0)
	require.NoError(t, store.Init())
	require.NoError(t, store.CreateSession(testSession("s-1", "persisted", time.Now())))
	require.NoError(t, store.Close())

	reopened := NewDiskStorage(dir, 100, 0)
	require.NoError(t, reopened.Init())

	got, err := reopened.GetSession("s-1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
	require.Len(t, got.Messages, 1)
}

func TestDiskStorageListSessionsMostRecentFirst(t *testing.T) {
	store := newTestDiskStorage(t, 0)

	base := time.Now()
	require.NoError(t, store.CreateSession(testSession("s-old", "old", base.Add(-2*time.Hour))))
	require.NoError(t, store.CreateSession(testSession("s-new", "new", base)))
	require.NoError(t, store.CreateSession(testSession("s-mid", "mid", base.Add(-time.Hour))))

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "s-new", sessions[0].ID)
	assert.Equal(t, "s-mid", sessions[1].ID)
	assert.Equal(t, "s-old", sessions[2].ID)
}

func TestDiskStorageQuotaExceeded(t *testing.T) {
	store := newTestDiskStorage(t, 16)

	session := testSession("s-1", "a session whose serialized form is far past the quota", time.Now())
	err := store.CreateSession(session)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// The in-memory copy is not rolled back: reads keep working.
	got, err := store.GetSession("s-1")
	require.NoError(t, err)
	assert.Equal(t, session.Title, got.Title)
}

func TestDiskStorageDeleteSession(t *testing.T) {
	store := newTestDiskStorage(t, 0)

	require.NoError(t, store.CreateSession(testSession("s-1", "one", time.Now())))
	require.NoError(t, store.DeleteSession("s-1"))

	_, err := store.GetSession("s-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.DeleteSession("s-1"), ErrSessionNotFound)
}

func TestDiskStorageReplaceMessages(t *testing.T) {
	store := newTestDiskStorage(t, 0)
	require.NoError(t, store.CreateSession(testSession("s-1", "one", time.Now())))

	replacement := []model.Message{
		{ID: "m-a", Role: model.RoleUser, Parts: []model.MessagePart{model.TextPart("rewritten")}},
		{ID: "m-b", Role: model.RoleAssistant, Parts: []model.MessagePart{model.TextPart("history")}},
	}
	require.NoError(t, store.ReplaceMessages("s-1", replacement))

	messages, err := store.GetMessages("s-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "rewritten", messages[0].Text())

	assert.ErrorIs(t, store.ReplaceMessages("missing", replacement), ErrSessionNotFound)
}

func TestDiskStorageProfileRoundTrip(t *testing.T) {
	store := newTestDiskStorage(t, 0)

	profile, err := store.GetProfile()
	require.NoError(t, err)
	assert.Nil(t, profile)

	require.NoError(t, store.SaveProfile(&model.UserProfile{
		XP:        150,
		Level:     2,
		Interests: map[string]int{"space": 3},
	}))

	profile, err = store.GetProfile()
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 150, profile.XP)
	assert.Equal(t, 2, profile.Level)
	assert.Equal(t, 3, profile.Interests["space"])
}

func TestDiskStorageTasksAndSettings(t *testing.T) {
	store := newTestDiskStorage(t, 0)

	tasks, err := store.GetTasks()
	require.NoError(t, err)
	assert.Empty(t, tasks)

	require.NoError(t, store.SaveTasks([]model.Task{{ID: "t-1", Description: "water the plants"}}))
	tasks, err = store.GetTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "water the plants", tasks[0].Description)

	settings, err := store.GetSettings()
	require.NoError(t, err)
	assert.Nil(t, settings)

	require.NoError(t, store.SaveSettings(&model.AppSettings{Language: "French", Tone: "playful"}))
	settings, err = store.GetSettings()
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "French", settings.Language)
}
