package stream

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/relay/pkg/llm"
)

var errNoTools = errors.New("no tools are available")

// executeTools runs the TOOL_EXECUTION state: every accumulated call runs
// concurrently, the conversation gains the assistant tool_calls message and
// one tool message per call, and a new round starts after the restart delay.
// Smoothing continues throughout.
func (e *Engine) executeTools(ctx context.Context) State {
	calls := e.frags.Drain()
	e.logger.Debug("running tool round", "calls", len(calls))

	for _, call := range calls {
		if e.cb.OnBeforeTool != nil {
			e.cb.OnBeforeTool(call)
		}
	}

	results := make([]ToolResult, len(calls))
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		for i, call := range calls {
			g.Go(func() error {
				results[i] = e.invoke(ctx, call)
				return nil
			})
		}
		_ = g.Wait()
	}()

	if !e.wait(ctx, done) {
		return StateFinished
	}

	toolMessages := make([]llm.Message, 0, len(results))
	for _, res := range results {
		e.metrics.RecordToolCall(ctx, res.Function.Name, res.IsError)
		if e.cb.OnAfterTool != nil {
			e.cb.OnAfterTool(res)
		}
		toolMessages = append(toolMessages, llm.Message{
			Role:       llm.RoleTool,
			Name:       res.Function.Name,
			Content:    llm.PlainText(res.Content),
			ToolCallID: res.ID,
		})
	}

	e.payload.AppendToolRound(llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: calls,
	}, toolMessages...)

	restart := make(chan struct{})
	timer := time.AfterFunc(e.restartDelay, func() { close(restart) })
	defer timer.Stop()
	if !e.wait(ctx, restart) {
		return StateFinished
	}
	return StateStreaming
}

// wait drains on every tick until ready fires. It returns false when ctx
// ends first.
func (e *Engine) wait(ctx context.Context, ready <-chan struct{}) bool {
	tick := e.ticker.C()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-tick:
			e.drain()
		case <-ready:
			return true
		}
	}
}

func (e *Engine) invoke(ctx context.Context, call llm.ToolCall) ToolResult {
	res := ToolResult{ToolCall: call}

	if e.tools == nil {
		res.IsError = true
		res.ErrorMsg = errNoTools.Error()
		res.Content = res.ErrorMsg
		return res
	}

	out, err := e.tools.Invoke(ctx, call)
	switch {
	case err != nil:
		e.logger.Warn("tool call failed", "tool", call.Function.Name, "error", err)
		res.IsError = true
		res.ErrorMsg = err.Error()
		res.Content = res.ErrorMsg
	case out.IsError:
		res.IsError = true
		res.ErrorMsg = out.Content
		res.Content = out.Content
	default:
		res.Content = out.Content
	}
	return res
}
