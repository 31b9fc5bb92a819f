package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// PartType tags the variant carried by a MessagePart.
type PartType string

const (
	PartText    PartType = "text"
	PartImage   PartType = "image"
	PartVideo   PartType = "video"
	PartTasks   PartType = "tasks"
	PartError   PartType = "error"
	PartLoading PartType = "loading"
)

// MediaPayload holds inline generated media. Data is transient and is
// blanked by the sanitizer before any persistence write.
type MediaPayload struct {
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type GroundingSource struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

// MessagePart is a tagged variant: exactly one payload field is set,
// matching Type. Grounding is only meaningful on text parts.
type MessagePart struct {
	Type      PartType          `json:"type"`
	Text      string            `json:"text,omitempty"`
	Image     *MediaPayload     `json:"image,omitempty"`
	Video     *MediaPayload     `json:"video,omitempty"`
	Tasks     []Task            `json:"tasks,omitempty"`
	Error     string            `json:"error,omitempty"`
	Grounding []GroundingSource `json:"grounding,omitempty"`
}

func TextPart(text string) MessagePart {
	return MessagePart{Type: PartText, Text: text}
}

func ImagePart(data, mimeType string) MessagePart {
	return MessagePart{Type: PartImage, Image: &MediaPayload{Data: data, MimeType: mimeType}}
}

func VideoPart(data, mimeType string) MessagePart {
	return MessagePart{Type: PartVideo, Video: &MediaPayload{Data: data, MimeType: mimeType}}
}

func TasksPart(tasks []Task) MessagePart {
	return MessagePart{Type: PartTasks, Tasks: tasks}
}

func ErrorPart(text string) MessagePart {
	return MessagePart{Type: PartError, Error: text}
}

func LoadingPart() MessagePart {
	return MessagePart{Type: PartLoading}
}

type Message struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Role        string        `json:"role"`
	Parts       []MessagePart `json:"parts"`
	AudioURL    string        `json:"audio_url,omitempty"`
	AmbianceURL string        `json:"ambiance_url,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Text concatenates the text payloads of the message, covering every
// variant that renders as text.
func (m *Message) Text() string {
	var out string
	for _, part := range m.Parts {
		switch part.Type {
		case PartText:
			out += part.Text
		case PartError:
			out += part.Error
		case PartImage, PartVideo, PartTasks, PartLoading:
			// non-textual variants
		}
	}
	return out
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Mode      string    `json:"mode,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Task struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	Completed     bool       `json:"completed"`
	Reminder      *time.Time `json:"reminder,omitempty"`
	ReminderFired bool       `json:"reminder_fired,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type UserProfile struct {
	Name      string         `json:"name,omitempty"`
	XP        int            `json:"xp"`
	Level     int            `json:"level"`
	Interests map[string]int `json:"interests,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AppSettings feeds the system instruction rebuilt at every turn; none of
// these fields may be cached across a settings change.
type AppSettings struct {
	Language             string    `json:"language,omitempty"`
	Tone                 string    `json:"tone,omitempty"`
	CustomInstruction    string    `json:"custom_instruction,omitempty"`
	MemoryEnabled        bool      `json:"memory_enabled"`
	Voice                string    `json:"voice,omitempty"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	RequirePasscode      bool      `json:"require_passcode"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// FunctionCall is a tool invocation requested by the model mid-stream.
// Args is the raw JSON argument object as emitted by the model.
type FunctionCall struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Args string `json:"args"`
}
