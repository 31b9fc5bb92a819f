package tools

import (
	"context"

	"companion-backend/internal/model"
	"companion-backend/pkg/logger"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// DispatchResult is what a tool invocation feeds back into the turn.
// Response is the JSON payload returned to the model for the follow-up
// stream; Parts, when present, replace the placeholder's text.
type DispatchResult struct {
	Response string
	Parts    []model.MessagePart
}

// PartRenderer lets a tool attach message parts to the placeholder in
// addition to its response payload.
type PartRenderer interface {
	RenderParts(ctx context.Context) []model.MessagePart
}

// Registry maps model-issued function-call names to local tools. Unknown
// names and malformed arguments degrade to "no side effect, no payload";
// a turn never fails because of a bad tool call.
type Registry struct {
	tools map[string]tool.InvokableTool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]tool.InvokableTool),
	}
}

func (r *Registry) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return err
	}

	if _, exists := r.tools[info.Name]; !exists {
		r.order = append(r.order, info.Name)
	}
	r.tools[info.Name] = t
	return nil
}

func (r *Registry) Dispatch(ctx context.Context, call model.FunctionCall) *DispatchResult {
	t, ok := r.tools[call.Name]
	if !ok {
		logger.Warnf("Ignoring unknown tool call: %s", call.Name)
		return nil
	}

	out, err := t.InvokableRun(ctx, call.Args)
	if err != nil {
		logger.Warnf("Tool %s failed: %v", call.Name, err)
		return nil
	}
	if out == "" {
		return nil
	}

	result := &DispatchResult{Response: out}
	if pr, ok := t.(PartRenderer); ok {
		result.Parts = pr.RenderParts(ctx)
	}
	return result
}

// Infos returns the tool schema declarations bound to the model.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		info, err := r.tools[name].Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (r *Registry) Len() int {
	return len(r.tools)
}
