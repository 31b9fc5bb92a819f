package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"companion-backend/internal/config"
	"companion-backend/internal/model"
	"companion-backend/internal/tools"
	"companion-backend/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// ErrTurnInFlight is returned when a session already has a streaming turn
// running; the new submission is a no-op.
var ErrTurnInFlight = errors.New("turn already in flight for this session")

// ErrNoModel is returned when no chat model is configured.
var ErrNoModel = errors.New("no chat model configured")

// genericTurnError is the only error text shown to the user. Transport
// details stay in the logs.
const genericTurnError = "Sorry, I ran into a problem answering that. Please try again."

const defaultTurnTimeout = 120 * time.Second

// defaultThinkingFillers seed the assistant placeholder before the first
// chunk arrives, when the config provides none.
var defaultThinkingFillers = []string{
	"Let me think about that...",
	"Hmm, give me a second...",
	"Thinking it over...",
	"One moment...",
}

type TurnPhase string

const (
	PhaseUser      TurnPhase = "user"
	PhaseThinking  TurnPhase = "thinking"
	PhaseStreaming TurnPhase = "streaming"
	PhaseTool      TurnPhase = "tool"
	PhaseFinal     TurnPhase = "final"
	PhaseError     TurnPhase = "error"
)

// TurnUpdate is one frame of a streaming turn. Content always carries the
// full running buffer for MessageID, so consumers overwrite rather than
// append; a frame with a shorter Content than its predecessor is a rewrite,
// not a glitch.
type TurnUpdate struct {
	MessageID string
	Role      string
	Content   string
	Parts     []model.MessagePart
	First     bool
	Phase     TurnPhase
}

// TurnController runs the two-message streaming turn: the user message is
// committed first, then an assistant placeholder that mutates in place as
// chunks, tool results and errors arrive. At most one turn runs per session.
type TurnController struct {
	chatModel einoModel.ChatModel
	registry  *tools.Registry
	cfg       *config.Config

	mu       sync.Mutex
	inflight map[string]bool
}

func NewTurnController(chatModel einoModel.ChatModel, registry *tools.Registry, cfg *config.Config) *TurnController {
	return &TurnController{
		chatModel: chatModel,
		registry:  registry,
		cfg:       cfg,
		inflight:  make(map[string]bool),
	}
}

func (t *TurnController) acquire(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight[sessionID] {
		return false
	}
	t.inflight[sessionID] = true
	return true
}

func (t *TurnController) release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, sessionID)
}

// InFlight reports whether sessionID currently has a running turn.
func (t *TurnController) InFlight(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight[sessionID]
}

// SubmitTurn runs one full turn against the model and returns the two new
// messages (user, assistant) in their final state. Model and transport
// failures do not surface as errors: the assistant message ends with a
// generic error part and the turn still returns both messages. The only
// error returns are the typed no-ops ErrTurnInFlight and ErrNoModel.
func (t *TurnController) SubmitTurn(
	ctx context.Context,
	sessionID string,
	history []model.Message,
	settings *model.AppSettings,
	content string,
	image *model.MediaPayload,
	emit func(TurnUpdate),
) ([]model.Message, error) {
	if t.chatModel == nil {
		return nil, ErrNoModel
	}
	if !t.acquire(sessionID) {
		logger.Warnf("Session %s already has a turn in flight, ignoring submission", sessionID)
		return nil, ErrTurnInFlight
	}
	defer t.release(sessionID)

	now := time.Now()

	userMsg := model.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      model.RoleUser,
		Parts:     []model.MessagePart{model.TextPart(content)},
		Timestamp: now,
	}
	if image != nil && image.Data != "" {
		userMsg.Parts = append(userMsg.Parts, model.MessagePart{Type: model.PartImage, Image: image})
	}
	emit(TurnUpdate{
		MessageID: userMsg.ID,
		Role:      model.RoleUser,
		Content:   content,
		Parts:     userMsg.Parts,
		Phase:     PhaseUser,
	})

	filler := t.pickFiller()
	placeholder := model.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Parts:     []model.MessagePart{model.LoadingPart(), model.TextPart(filler)},
		Timestamp: now,
	}
	emit(TurnUpdate{
		MessageID: placeholder.ID,
		Role:      model.RoleAssistant,
		Content:   filler,
		Parts:     placeholder.Parts,
		Phase:     PhaseThinking,
	})

	finalParts := t.runModelPasses(ctx, sessionID, history, settings, userMsg, placeholder.ID, emit)
	placeholder.Parts = finalParts

	phase := PhaseFinal
	if len(finalParts) > 0 && finalParts[len(finalParts)-1].Type == model.PartError {
		phase = PhaseError
	}
	final := model.Message{ID: placeholder.ID, Parts: finalParts}
	emit(TurnUpdate{
		MessageID: placeholder.ID,
		Role:      model.RoleAssistant,
		Content:   final.Text(),
		Parts:     finalParts,
		Phase:     phase,
	})

	return []model.Message{userMsg, placeholder}, nil
}

// runModelPasses drives the first stream, at most one tool dispatch, and
// the follow-up stream. It returns the placeholder's final parts.
func (t *TurnController) runModelPasses(
	ctx context.Context,
	sessionID string,
	history []model.Message,
	settings *model.AppSettings,
	userMsg model.Message,
	placeholderID string,
	emit func(TurnUpdate),
) []model.MessagePart {
	msgs := t.buildModelMessages(history, settings, userMsg)

	// The first-chunk signal fires once per turn, not once per pass.
	first := true
	buf, calls, err := t.streamPass(ctx, msgs, placeholderID, &first, emit)
	if err != nil {
		logger.Errorf("Session %s: first model pass failed: %v", sessionID, err)
		return []model.MessagePart{model.ErrorPart(genericTurnError)}
	}

	if len(calls) == 0 {
		return []model.MessagePart{model.TextPart(buf)}
	}

	// Only the first requested call is executed; the rest are dropped.
	call := calls[0]
	if len(calls) > 1 {
		logger.Warnf("Session %s: model requested %d tool calls, executing only %s", sessionID, len(calls), call.Name)
	}
	emit(TurnUpdate{
		MessageID: placeholderID,
		Role:      model.RoleAssistant,
		Content:   buf,
		Phase:     PhaseTool,
	})

	var result *tools.DispatchResult
	if t.registry != nil {
		result = t.registry.Dispatch(ctx, call)
	}
	if result == nil {
		// No payload means no round trip: the first pass text stands.
		return []model.MessagePart{model.TextPart(buf)}
	}

	followup := append(msgs, assistantWithCalls(buf, calls), schema.ToolMessage(result.Response, call.ID))
	buf2, _, err := t.streamPass(ctx, followup, placeholderID, &first, emit)
	if err != nil {
		logger.Errorf("Session %s: follow-up model pass failed: %v", sessionID, err)
		return []model.MessagePart{model.ErrorPart(genericTurnError)}
	}

	if len(result.Parts) > 0 {
		parts := append([]model.MessagePart{}, result.Parts...)
		if buf2 != "" {
			parts = append(parts, model.TextPart(buf2))
		}
		return parts
	}
	return []model.MessagePart{model.TextPart(buf2)}
}

// streamPass consumes one model stream, emitting an overwrite frame per
// chunk and accumulating any tool-call fragments.
func (t *TurnController) streamPass(
	ctx context.Context,
	msgs []*schema.Message,
	placeholderID string,
	first *bool,
	emit func(TurnUpdate),
) (string, []model.FunctionCall, error) {
	reader, err := t.chatModel.Stream(ctx, msgs)
	if err != nil {
		return "", nil, fmt.Errorf("open stream: %w", err)
	}
	defer reader.Close()

	timeout := t.cfg.Chat.TurnTimeout
	if timeout <= 0 {
		timeout = defaultTurnTimeout
	}

	var buf string
	var acc []schema.ToolCall
	for {
		chunk, err := recvWithTimeout(reader, timeout)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("recv chunk: %w", err)
		}
		if chunk == nil {
			continue
		}

		if len(chunk.ToolCalls) > 0 {
			acc = mergeToolCalls(acc, chunk.ToolCalls)
		}
		if chunk.Content == "" {
			continue
		}

		buf += chunk.Content
		emit(TurnUpdate{
			MessageID: placeholderID,
			Role:      model.RoleAssistant,
			Content:   buf,
			First:     *first,
			Phase:     PhaseStreaming,
		})
		*first = false
	}

	return buf, toFunctionCalls(acc), nil
}

type recvResult struct {
	msg *schema.Message
	err error
}

// recvWithTimeout bounds every chunk wait. A stalled provider turns into a
// turn-level error instead of a hung goroutine.
func recvWithTimeout(reader *schema.StreamReader[*schema.Message], timeout time.Duration) (*schema.Message, error) {
	ch := make(chan recvResult, 1)
	go func() {
		msg, err := reader.Recv()
		ch <- recvResult{msg: msg, err: err}
	}()

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("stream chunk timed out after %s", timeout)
	}
}

// mergeToolCalls folds streamed tool-call fragments into whole calls.
// Fragments carrying an index join the call at that index; argument text
// concatenates across fragments.
func mergeToolCalls(acc []schema.ToolCall, chunk []schema.ToolCall) []schema.ToolCall {
	for _, tc := range chunk {
		idx := len(acc)
		if tc.Index != nil {
			idx = *tc.Index
		}

		for idx >= len(acc) {
			acc = append(acc, schema.ToolCall{})
		}

		cur := &acc[idx]
		if tc.ID != "" {
			cur.ID = tc.ID
		}
		if tc.Type != "" {
			cur.Type = tc.Type
		}
		if tc.Function.Name != "" {
			cur.Function.Name += tc.Function.Name
		}
		cur.Function.Arguments += tc.Function.Arguments
	}
	return acc
}

func toFunctionCalls(acc []schema.ToolCall) []model.FunctionCall {
	if len(acc) == 0 {
		return nil
	}
	out := make([]model.FunctionCall, 0, len(acc))
	for _, tc := range acc {
		if tc.Function.Name == "" {
			continue
		}
		out = append(out, model.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return out
}

func assistantWithCalls(content string, calls []model.FunctionCall) *schema.Message {
	toolCalls := make([]schema.ToolCall, 0, len(calls))
	for _, call := range calls {
		toolCalls = append(toolCalls, schema.ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      call.Name,
				Arguments: call.Args,
			},
		})
	}
	return schema.AssistantMessage(content, toolCalls)
}

// buildModelMessages assembles the model input: a system instruction
// rebuilt from the current settings, the most recent slice of the prior
// conversation, then the new user message. Settings are never cached
// across turns.
func (t *TurnController) buildModelMessages(history []model.Message, settings *model.AppSettings, userMsg model.Message) []*schema.Message {
	if max := t.cfg.Chat.MaxHistoryMessages; max > 0 && len(history) > max {
		history = history[len(history)-max:]
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(buildSystemInstruction(t.cfg, settings)))

	for i := range history {
		h := &history[i]
		text := h.Text()
		if text == "" {
			continue
		}
		switch h.Role {
		case model.RoleUser:
			msgs = append(msgs, schema.UserMessage(text))
		case model.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(text, nil))
		}
	}

	msgs = append(msgs, userSchemaMessage(userMsg))
	return msgs
}

func userSchemaMessage(m model.Message) *schema.Message {
	var imagePart *model.MessagePart
	for i := range m.Parts {
		if m.Parts[i].Type == model.PartImage && m.Parts[i].Image != nil && m.Parts[i].Image.Data != "" {
			imagePart = &m.Parts[i]
			break
		}
	}
	text := m.Text()
	if imagePart == nil {
		return schema.UserMessage(text)
	}

	mime := imagePart.Image.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: text},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", mime, imagePart.Image.Data),
				},
			},
		},
	}
}

func buildSystemInstruction(cfg *config.Config, settings *model.AppSettings) string {
	var b strings.Builder
	b.WriteString(cfg.Chat.SystemPrompt)
	if settings == nil {
		return b.String()
	}
	if settings.Language != "" {
		fmt.Fprintf(&b, "\nAlways respond in %s.", settings.Language)
	}
	if settings.Tone != "" {
		fmt.Fprintf(&b, "\nKeep a %s tone.", settings.Tone)
	}
	if settings.CustomInstruction != "" {
		b.WriteString("\n")
		b.WriteString(settings.CustomInstruction)
	}
	return b.String()
}

func (t *TurnController) pickFiller() string {
	fillers := t.cfg.Chat.ThinkingFillers
	if len(fillers) == 0 {
		fillers = defaultThinkingFillers
	}
	return fillers[rand.Intn(len(fillers))]
}
