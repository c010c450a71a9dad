package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/relay/pkg/utils"
)

const (
	defaultTurnLimit = 10
	maxTurnLimit     = 100

	promptPreviewLen   = 200
	responsePreviewLen = 500
)

var (
	recentTurnsToolName    = "recent_turns"
	recentTurnsDescription = "List the most recent chat turns relayed to the model provider, newest first. Each entry has the model, the upstream status, and previews of the prompt and the response."
)

// RecentTurnsInput represents the input arguments for the recent_turns tool.
type RecentTurnsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of turns to return (default: 10, max: 100)"`
}

// TurnSummary is one entry of the recent_turns output.
type TurnSummary struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Status     int       `json:"status"`
	Stream     bool      `json:"stream"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecentTurnsOutput represents the output of the recent_turns tool.
type RecentTurnsOutput struct {
	Turns []TurnSummary `json:"turns"`
	Count int           `json:"count"`
}

func (s *Server) handleRecentTurns(ctx context.Context, _ *mcp.CallToolRequest, input RecentTurnsInput) (*mcp.CallToolResult, RecentTurnsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultTurnLimit
	}
	limit = min(limit, maxTurnLimit)

	s.config.Logger.Debug("MCP recent_turns request", "limit", limit)

	turns, err := s.config.Driver.List(ctx, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("Listing turns failed: %v", err)), RecentTurnsOutput{}, nil
	}

	output := RecentTurnsOutput{Turns: make([]TurnSummary, 0, len(turns))}
	for _, t := range turns {
		output.Turns = append(output.Turns, TurnSummary{
			ID:         t.ID.String(),
			Model:      t.Model,
			Status:     t.Status,
			Stream:     t.Stream,
			Prompt:     utils.Truncate(t.Prompt, promptPreviewLen),
			Response:   utils.Truncate(t.Response, responsePreviewLen),
			DurationMS: t.DurationMS,
			CreatedAt:  t.CreatedAt,
		})
	}
	output.Count = len(output.Turns)

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err)), RecentTurnsOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
