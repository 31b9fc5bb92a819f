package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"companion-backend/internal/config"
	"companion-backend/internal/model"
	"companion-backend/internal/tools"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStream is one planned model response: chunks delivered in order,
// then an optional terminal error instead of a clean close.
type scriptedStream struct {
	chunks []*schema.Message
	err    error
	gate   chan struct{} // when set, chunks wait for the gate to open
}

type scriptedModel struct {
	mu      sync.Mutex
	streams []scriptedStream
	inputs  [][]*schema.Message
	calls   int
}

func (m *scriptedModel) Generate(ctx context.Context, in []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	return schema.AssistantMessage("generated", nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	if m.calls >= len(m.streams) {
		m.mu.Unlock()
		return nil, fmt.Errorf("no scripted stream for call %d", m.calls)
	}
	script := m.streams[m.calls]
	m.calls++
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()

	reader, writer := schema.Pipe[*schema.Message](100)
	go func() {
		defer writer.Close()
		if script.gate != nil {
			<-script.gate
		}
		for _, chunk := range script.chunks {
			writer.Send(chunk, nil)
		}
		if script.err != nil {
			writer.Send(nil, script.err)
		}
	}()
	return reader, nil
}

func (m *scriptedModel) BindTools(infos []*schema.ToolInfo) error {
	return nil
}

func (m *scriptedModel) streamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func textChunk(s string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: s}
}

func toolChunk(index int, id, name, args string) *schema.Message {
	idx := index
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Index: &idx,
			ID:    id,
			Type:  "function",
			Function: schema.FunctionCall{
				Name:      name,
				Arguments: args,
			},
		}},
	}
}

func turnConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Chat.TurnTimeout = 5 * time.Second
	cfg.Chat.ThinkingFillers = []string{"Thinking..."}
	return cfg
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks []model.Task
}

func (s *fakeTaskStore) AddTask(description string, reminder *time.Time) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := model.Task{ID: fmt.Sprintf("t-%d", len(s.tasks)+1), Description: description, Reminder: reminder}
	s.tasks = append(s.tasks, task)
	return task, nil
}

func (s *fakeTaskStore) ListTasks() ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Task{}, s.tasks...), nil
}

func collectUpdates() (func(TurnUpdate), *[]TurnUpdate) {
	var mu sync.Mutex
	updates := &[]TurnUpdate{}
	return func(u TurnUpdate) {
		mu.Lock()
		defer mu.Unlock()
		*updates = append(*updates, u)
	}, updates
}

func TestSubmitTurnPlainText(t *testing.T) {
	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{textChunk("Hi"), textChunk(" there!")}},
	}}
	tc := NewTurnController(m, tools.NewRegistry(), turnConfig())

	emit, updates := collectUpdates()
	msgs, err := tc.SubmitTurn(context.Background(), "s1", nil, nil, "hello", nil, emit)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Text())
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there!", msgs[1].Text())

	got := *updates
	require.GreaterOrEqual(t, len(got), 4)

	// User frame lands strictly before the assistant placeholder.
	assert.Equal(t, PhaseUser, got[0].Phase)
	assert.Equal(t, msgs[0].ID, got[0].MessageID)
	assert.Equal(t, PhaseThinking, got[1].Phase)
	assert.Equal(t, msgs[1].ID, got[1].MessageID)
	assert.Equal(t, "Thinking...", got[1].Content)

	// Streaming frames carry the full running buffer, not deltas.
	var streaming []TurnUpdate
	for _, u := range got {
		if u.Phase == PhaseStreaming {
			streaming = append(streaming, u)
		}
	}
	require.Len(t, streaming, 2)
	assert.Equal(t, "Hi", streaming[0].Content)
	assert.True(t, streaming[0].First)
	assert.Equal(t, "Hi there!", streaming[1].Content)
	assert.False(t, streaming[1].First)

	last := got[len(got)-1]
	assert.Equal(t, PhaseFinal, last.Phase)
	assert.Equal(t, "Hi there!", last.Content)
}

func TestSubmitTurnInFlightIsNoOp(t *testing.T) {
	gate := make(chan struct{})
	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{textChunk("slow")}, gate: gate},
	}}
	tc := NewTurnController(m, tools.NewRegistry(), turnConfig())

	emit, _ := collectUpdates()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := tc.SubmitTurn(context.Background(), "s1", nil, nil, "first", nil, emit)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return tc.InFlight("s1") }, time.Second, 5*time.Millisecond)

	_, err := tc.SubmitTurn(context.Background(), "s1", nil, nil, "second", nil, emit)
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(gate)
	<-done
	assert.False(t, tc.InFlight("s1"))
	assert.Equal(t, 1, m.streamCalls())
}

func TestSubmitTurnToolRoundTrip(t *testing.T) {
	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{
			// Arguments arrive split across fragments.
			toolChunk(0, "call-1", "add_task", `{"descri`),
			toolChunk(0, "", "", `ption":"buy milk"}`),
		}},
		{chunks: []*schema.Message{textChunk("Added!")}},
	}}

	ctx := context.Background()
	store := &fakeTaskStore{}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(ctx, tools.NewAddTaskTool(store)))

	tc := NewTurnController(m, registry, turnConfig())
	emit, updates := collectUpdates()
	msgs, err := tc.SubmitTurn(ctx, "s1", nil, nil, "remind me to buy milk", nil, emit)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "Added!", msgs[1].Text())
	assert.Equal(t, 2, m.streamCalls())

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "buy milk", tasks[0].Description)

	var sawTool bool
	for _, u := range *updates {
		if u.Phase == PhaseTool {
			sawTool = true
		}
	}
	assert.True(t, sawTool)
}

func TestSubmitTurnDispatchesFirstCallOnly(t *testing.T) {
	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{
			toolChunk(0, "call-1", "add_task", `{"description":"first"}`),
			toolChunk(1, "call-2", "add_task", `{"description":"second"}`),
		}},
		{chunks: []*schema.Message{textChunk("Done.")}},
	}}

	ctx := context.Background()
	store := &fakeTaskStore{}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(ctx, tools.NewAddTaskTool(store)))

	tc := NewTurnController(m, registry, turnConfig())
	emit, _ := collectUpdates()
	_, err := tc.SubmitTurn(ctx, "s1", nil, nil, "two tasks please", nil, emit)
	require.NoError(t, err)

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "first", tasks[0].Description)
}

func TestSubmitTurnShowTasksAttachesParts(t *testing.T) {
	ctx := context.Background()
	store := &fakeTaskStore{}
	_, err := store.AddTask("water the plants", nil)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(ctx, tools.NewShowTasksTool(store)))

	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{toolChunk(0, "call-1", "show_tasks", `{}`)}},
		{chunks: []*schema.Message{textChunk("Here you go.")}},
	}}

	tc := NewTurnController(m, registry, turnConfig())
	emit, _ := collectUpdates()
	msgs, err := tc.SubmitTurn(ctx, "s1", nil, nil, "show my tasks", nil, emit)
	require.NoError(t, err)

	parts := msgs[1].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, model.PartTasks, parts[0].Type)
	require.Len(t, parts[0].Tasks, 1)
	assert.Equal(t, "water the plants", parts[0].Tasks[0].Description)
	assert.Equal(t, model.PartText, parts[1].Type)
	assert.Equal(t, "Here you go.", parts[1].Text)
}

func TestSubmitTurnUnknownToolSkipsRoundTrip(t *testing.T) {
	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{
			textChunk("Let me check. "),
			toolChunk(0, "call-1", "launch_rocket", `{}`),
		}},
	}}
	tc := NewTurnController(m, tools.NewRegistry(), turnConfig())

	emit, _ := collectUpdates()
	msgs, err := tc.SubmitTurn(context.Background(), "s1", nil, nil, "do something odd", nil, emit)
	require.NoError(t, err)

	// No payload, no follow-up stream: the first pass text stands.
	assert.Equal(t, 1, m.streamCalls())
	assert.Equal(t, "Let me check. ", msgs[1].Text())
}

func TestSubmitTurnTransportErrorFallsBack(t *testing.T) {
	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{textChunk("partial")}, err: errors.New("connection reset")},
		{chunks: []*schema.Message{textChunk("recovered")}},
	}}
	tc := NewTurnController(m, tools.NewRegistry(), turnConfig())

	emit, _ := collectUpdates()
	msgs, err := tc.SubmitTurn(context.Background(), "s1", nil, nil, "hello", nil, emit)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	parts := msgs[1].Parts
	require.Len(t, parts, 1)
	assert.Equal(t, model.PartError, parts[0].Type)
	assert.Equal(t, genericTurnError, parts[0].Error)
	assert.NotContains(t, parts[0].Error, "connection reset")

	// The gate must be released: the next turn on the same session runs.
	msgs, err = tc.SubmitTurn(context.Background(), "s1", nil, nil, "again", nil, emit)
	require.NoError(t, err)
	assert.Equal(t, "recovered", msgs[1].Text())
}

func TestSubmitTurnChunkTimeout(t *testing.T) {
	cfg := turnConfig()
	cfg.Chat.TurnTimeout = 50 * time.Millisecond

	gate := make(chan struct{})
	defer close(gate)
	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{textChunk("never arrives")}, gate: gate},
	}}
	tc := NewTurnController(m, tools.NewRegistry(), cfg)

	emit, _ := collectUpdates()
	msgs, err := tc.SubmitTurn(context.Background(), "s1", nil, nil, "hello", nil, emit)
	require.NoError(t, err)

	parts := msgs[1].Parts
	require.Len(t, parts, 1)
	assert.Equal(t, model.PartError, parts[0].Type)
	assert.Equal(t, genericTurnError, parts[0].Error)
}

func TestSubmitTurnFirstSignalOncePerTurn(t *testing.T) {
	ctx := context.Background()
	store := &fakeTaskStore{}
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(ctx, tools.NewShowTasksTool(store)))

	// Both passes stream text; the first-chunk signal must still fire once.
	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{
			textChunk("Checking... "),
			toolChunk(0, "call-1", "show_tasks", `{}`),
		}},
		{chunks: []*schema.Message{textChunk("All "), textChunk("done.")}},
	}}

	tc := NewTurnController(m, registry, turnConfig())
	emit, updates := collectUpdates()
	_, err := tc.SubmitTurn(ctx, "s1", nil, nil, "show my tasks", nil, emit)
	require.NoError(t, err)

	var firsts []TurnUpdate
	for _, u := range *updates {
		if u.First {
			firsts = append(firsts, u)
		}
	}
	require.Len(t, firsts, 1)
	assert.Equal(t, PhaseStreaming, firsts[0].Phase)
	assert.Equal(t, "Checking... ", firsts[0].Content)
}

func TestSubmitTurnBoundsHistorySeed(t *testing.T) {
	cfg := turnConfig()
	cfg.Chat.MaxHistoryMessages = 2

	m := &scriptedModel{streams: []scriptedStream{
		{chunks: []*schema.Message{textChunk("ok")}},
	}}
	tc := NewTurnController(m, tools.NewRegistry(), cfg)

	var history []model.Message
	for i := 0; i < 5; i++ {
		history = append(history, model.Message{
			ID:    fmt.Sprintf("h-%d", i),
			Role:  model.RoleUser,
			Parts: []model.MessagePart{model.TextPart(fmt.Sprintf("history %d", i))},
		})
	}

	emit, _ := collectUpdates()
	_, err := tc.SubmitTurn(context.Background(), "s1", history, nil, "newest", nil, emit)
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.inputs, 1)
	in := m.inputs[0]

	// System instruction, the two newest history messages, the new turn.
	require.Len(t, in, 4)
	assert.Equal(t, schema.System, in[0].Role)
	assert.Equal(t, "history 3", in[1].Content)
	assert.Equal(t, "history 4", in[2].Content)
	assert.Equal(t, "newest", in[3].Content)
}

func TestBuildSystemInstruction(t *testing.T) {
	cfg := turnConfig()
	cfg.Chat.SystemPrompt = "You are a companion."

	assert.Equal(t, "You are a companion.", buildSystemInstruction(cfg, nil))

	settings := &model.AppSettings{
		Language:          "French",
		Tone:              "playful",
		CustomInstruction: "Call me Captain.",
	}
	got := buildSystemInstruction(cfg, settings)
	assert.Contains(t, got, "You are a companion.")
	assert.Contains(t, got, "French")
	assert.Contains(t, got, "playful")
	assert.Contains(t, got, "Call me Captain.")
}

func TestMergeToolCalls(t *testing.T) {
	idx0, idx1 := 0, 1
	acc := mergeToolCalls(nil, []schema.ToolCall{
		{Index: &idx0, ID: "call-1", Function: schema.FunctionCall{Name: "add_", Arguments: `{"a`}},
	})
	acc = mergeToolCalls(acc, []schema.ToolCall{
		{Index: &idx0, Function: schema.FunctionCall{Name: "task", Arguments: `":1}`}},
		{Index: &idx1, ID: "call-2", Function: schema.FunctionCall{Name: "show_tasks", Arguments: `{}`}},
	})

	calls := toFunctionCalls(acc)
	require.Len(t, calls, 2)
	assert.Equal(t, "call-1", calls[0].ID)
	assert.Equal(t, "add_task", calls[0].Name)
	assert.Equal(t, `{"a":1}`, calls[0].Args)
	assert.Equal(t, "show_tasks", calls[1].Name)
}
