package service

import (
	"companion-backend/internal/model"
)

// DefaultHistoryLimit bounds how many messages of a session survive a
// persistence write.
const DefaultHistoryLimit = 50

// SanitizeSession returns a persistable copy of the session: at most limit
// most-recent messages, with inline media payloads blanked. The input is
// never mutated and sanitizing an already-sanitized session is a no-op.
func SanitizeSession(session *model.Session, limit int) *model.Session {
	if session == nil {
		return nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	out := *session
	out.Messages = SanitizeMessages(session.Messages, limit)
	return &out
}

// SanitizeSessions applies SanitizeSession across a registry snapshot.
func SanitizeSessions(sessions []*model.Session, limit int) []*model.Session {
	out := make([]*model.Session, len(sessions))
	for i, session := range sessions {
		out[i] = SanitizeSession(session, limit)
	}
	return out
}

// SanitizeMessages keeps the newest limit messages (oldest dropped first)
// and strips transient media data from every part.
func SanitizeMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	start := 0
	if len(messages) > limit {
		start = len(messages) - limit
	}

	out := make([]model.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, sanitizeMessage(msg))
	}
	return out
}

func sanitizeMessage(msg model.Message) model.Message {
	out := msg
	out.Parts = make([]model.MessagePart, len(msg.Parts))
	for i, part := range msg.Parts {
		out.Parts[i] = sanitizePart(part)
	}
	return out
}

func sanitizePart(part model.MessagePart) model.MessagePart {
	switch part.Type {
	case model.PartImage:
		if part.Image != nil && part.Image.Data != "" {
			stripped := *part.Image
			stripped.Data = ""
			part.Image = &stripped
		}
	case model.PartVideo:
		if part.Video != nil && part.Video.Data != "" {
			stripped := *part.Video
			stripped.Data = ""
			part.Video = &stripped
		}
	case model.PartText, model.PartTasks, model.PartError, model.PartLoading:
		// nothing transient to strip
	}
	return part
}
