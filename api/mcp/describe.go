package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/relay/pkg/llm"
)

var (
	describeImageToolName    = "describe_image"
	describeImageDescription = "Describe an image with the relay's vision model. Give the image URL and, optionally, a question about the image; returns a detailed text description."
)

// DescribeImageInput represents the input arguments for the describe_image tool.
type DescribeImageInput struct {
	URL      string `json:"url" jsonschema:"the http(s) or data: URL of the image"`
	Question string `json:"question,omitempty" jsonschema:"an optional question to answer about the image"`
}

// DescribeImageOutput represents the output of the describe_image tool.
type DescribeImageOutput struct {
	Description string `json:"description"`
}

func (s *Server) handleDescribeImage(ctx context.Context, _ *mcp.CallToolRequest, input DescribeImageInput) (*mcp.CallToolResult, DescribeImageOutput, error) {
	url := strings.TrimSpace(input.URL)
	if url == "" {
		return errorResult("url is required"), DescribeImageOutput{}, nil
	}

	if s.config.Resolver != nil {
		resolved, err := s.config.Resolver.ResolveURL(ctx, url)
		if err != nil {
			s.config.Logger.Warn("MCP describe_image could not load image", "url", url, "error", err)
			return errorResult(fmt.Sprintf("Image could not be loaded: %v", err)), DescribeImageOutput{}, nil
		}
		url = resolved
	}

	var parts llm.PartSequence
	if q := strings.TrimSpace(input.Question); q != "" {
		parts = append(parts, llm.TextPart(q))
	}
	parts = append(parts, llm.ImagePart(url))

	description, err := s.config.Describer.Describe(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: parts},
	})
	if err != nil {
		return errorResult(fmt.Sprintf("Image description failed: %v", err)), DescribeImageOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: description},
		},
	}, DescribeImageOutput{Description: description}, nil
}
