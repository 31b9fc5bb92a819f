package service

import (
	"fmt"
	"testing"

	"companion-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMessagesKeepsMostRecent(t *testing.T) {
	var msgs []model.Message
	for i := 0; i < 60; i++ {
		msgs = append(msgs, model.Message{
			ID:    fmt.Sprintf("m-%d", i),
			Role:  model.RoleUser,
			Parts: []model.MessagePart{model.TextPart(fmt.Sprintf("message %d", i))},
		})
	}

	out := SanitizeMessages(msgs, 50)
	require.Len(t, out, 50)
	// Oldest dropped, newest kept.
	assert.Equal(t, "m-10", out[0].ID)
	assert.Equal(t, "m-59", out[49].ID)
}

func TestSanitizeMessagesStripsInlineMedia(t *testing.T) {
	msgs := []model.Message{
		{
			ID:   "m-1",
			Role: model.RoleAssistant,
			Parts: []model.MessagePart{
				model.TextPart("here is a picture"),
				model.ImagePart("aGVsbG8=", "image/png"),
				model.VideoPart("d29ybGQ=", "video/mp4"),
			},
		},
	}

	out := SanitizeMessages(msgs, 50)
	require.Len(t, out, 1)
	require.Len(t, out[0].Parts, 3)

	assert.Equal(t, "here is a picture", out[0].Parts[0].Text)
	assert.Empty(t, out[0].Parts[1].Image.Data)
	assert.Equal(t, "image/png", out[0].Parts[1].Image.MimeType)
	assert.Empty(t, out[0].Parts[2].Video.Data)

	// The input is untouched.
	assert.Equal(t, "aGVsbG8=", msgs[0].Parts[1].Image.Data)
}

func TestSanitizeMessagesIdempotent(t *testing.T) {
	var msgs []model.Message
	for i := 0; i < 55; i++ {
		msgs = append(msgs, model.Message{
			ID:    fmt.Sprintf("m-%d", i),
			Parts: []model.MessagePart{model.ImagePart("ZGF0YQ==", "image/png")},
		})
	}

	once := SanitizeMessages(msgs, 50)
	twice := SanitizeMessages(once, 50)
	assert.Equal(t, once, twice)
}

func TestSanitizeSessionCopies(t *testing.T) {
	session := &model.Session{
		ID:    "s-1",
		Title: "chat",
		Messages: []model.Message{
			{ID: "m-1", Parts: []model.MessagePart{model.TextPart("hi")}},
		},
	}

	out := SanitizeSession(session, 0)
	require.NotSame(t, session, out)
	assert.Equal(t, session.ID, out.ID)
	assert.Len(t, out.Messages, 1)

	assert.Nil(t, SanitizeSession(nil, 10))
}
