package tools

import (
	"context"

	"companion-backend/pkg/logger"

	einoMcp "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/cloudwego/eino/components/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// GetWorkerSearchMCPTools connects to the marketplace's MCP endpoint and
// exposes its worker-search tools to the model. The marketplace is an
// external collaborator; an unreachable endpoint just means no extra tools.
func GetWorkerSearchMCPTools(ctx context.Context, endpoint string) []tool.BaseTool {
	if endpoint == "" {
		return nil
	}

	cli, err := client.NewSSEMCPClient(endpoint)
	if err != nil {
		logger.Errorf("worker search MCP client: %v", err)
		return nil
	}

	if err := cli.Start(ctx); err != nil {
		logger.Errorf("worker search MCP start: %v", err)
		return nil
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "companion-backend",
		Version: "1.0.0",
	}
	if _, err := cli.Initialize(ctx, initRequest); err != nil {
		logger.Errorf("worker search MCP initialize: %v", err)
		return nil
	}

	mcpTools, err := einoMcp.GetTools(ctx, &einoMcp.Config{Cli: cli})
	if err != nil {
		logger.Errorf("worker search MCP tools: %v", err)
		return nil
	}

	for _, mcpTool := range mcpTools {
		if info, err := mcpTool.Info(ctx); err == nil {
			logger.Infof("Loaded worker search tool: %s", info.Name)
		}
	}

	return mcpTools
}
