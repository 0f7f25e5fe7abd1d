package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mailonline/chpusage/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Reporter  UsageReporter
	Scheduler Scheduler
}

// NewMCPServer creates an MCP server with the usage admin tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chpusage",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("chpusage reports which CHP images a post uses and keeps a usage record per post."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("send_chp_usage",
			mcp.WithDescription("Run a usage attempt for a post now and return its usage record."),
			mcp.WithNumber("post_id", mcp.Description("Post ID"), mcp.Required()),
		),
		mcpSendUsage(deps),
	)

	s.AddTool(
		mcp.NewTool("get_usage_record",
			mcp.WithDescription("Return the stored usage record of a post and whether it still has failed images."),
			mcp.WithNumber("post_id", mcp.Description("Post ID"), mcp.Required()),
		),
		mcpGetUsageRecord(deps),
	)

	s.AddTool(
		mcp.NewTool("run_daily_sweep",
			mcp.WithDescription("Retry every recently changed published post that still has failed images."),
		),
		mcpRunDailySweep(deps),
	)

	return s
}

func mcpPostID(deps MCPDeps, req mcp.CallToolRequest) (int64, *mcp.CallToolResult) {
	id := int64(req.GetInt("post_id", 0))
	if id <= 0 {
		return 0, mcpError("post_id is required")
	}
	_, err := deps.Store.GetPost(id)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, mcpError(fmt.Sprintf("post %d not found", id))
	}
	if err != nil {
		return 0, mcpError(fmt.Sprintf("failed to read post: %v", err))
	}
	return id, nil
}

func mcpSendUsage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := mcpPostID(deps, req)
		if errResult != nil {
			return errResult, nil
		}

		rec, err := deps.Reporter.Send(ctx, id, false)
		if err != nil {
			return mcpError(fmt.Sprintf("usage attempt failed: %v", err)), nil
		}
		stored, flagged, err := deps.Reporter.Record(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read usage record: %v", err)), nil
		}

		b, err := json.Marshal(UsageResponse{PostID: id, Attempted: rec != nil, Flagged: flagged, Record: stored})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetUsageRecord(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := mcpPostID(deps, req)
		if errResult != nil {
			return errResult, nil
		}

		rec, flagged, err := deps.Reporter.Record(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read usage record: %v", err)), nil
		}
		b, err := json.Marshal(UsageResponse{PostID: id, Flagged: flagged, Record: rec})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRunDailySweep(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := deps.Scheduler.DailySweep(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("sweep stopped after %d posts: %v", n, err)), nil
		}
		return mcpText(fmt.Sprintf("Swept %d posts", n)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
