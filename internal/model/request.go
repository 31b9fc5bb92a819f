package model

import "time"

type ChatRequest struct {
	Message   string        `json:"message" binding:"required"`
	SessionID string        `json:"session_id"`
	Image     *MediaPayload `json:"image,omitempty"`
	// AwardXP is an optional point-award directive carried alongside the
	// turn; it fires the gamification hooks after the turn completes.
	AwardXP  int    `json:"award_xp,omitempty"`
	Interest string `json:"interest,omitempty"`
}

type CreateSessionRequest struct {
	Title string `json:"title"`
	Mode  string `json:"mode"`
}

type RenameSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

type AddTaskRequest struct {
	Description string     `json:"description" binding:"required"`
	Reminder    *time.Time `json:"reminder,omitempty"`
}

type UpdateSettingsRequest struct {
	Language             string `json:"language"`
	Tone                 string `json:"tone"`
	CustomInstruction    string `json:"custom_instruction"`
	MemoryEnabled        bool   `json:"memory_enabled"`
	Voice                string `json:"voice"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	RequirePasscode      bool   `json:"require_passcode"`
}
