// Package chatcmder provides the chat command for interactive LLM chat
// through the relay.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/pkg/chat"
	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/content"
	"github.com/papercomputeco/relay/pkg/dotdir"
	"github.com/papercomputeco/relay/pkg/imagecache"
	"github.com/papercomputeco/relay/pkg/imagecache/inmemory"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/capability"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/request"
	"github.com/papercomputeco/relay/pkg/stream"
	"github.com/papercomputeco/relay/pkg/tool"
	"github.com/papercomputeco/relay/pkg/tool/mcptool"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/pkg/vision"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

// Default sampling settings of a chat turn.
const (
	defaultTemperature = 0.7
	defaultTopP        = 1.0
)

type chatCommander struct {
	proxyTarget string
	model       string
	visionModel string
	system      string
	newSession  bool
	render      bool
	debug       bool
	configDir   string

	v      *viper.Viper
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

const chatLongDesc string = `Start an interactive chat session through the relay.

Messages are sent to the configured relay (client.proxy_target), which forwards
them upstream and records the turn. Replies stream as they arrive. Tools from
the MCP servers listed under [[mcp.servers]] in config.toml are offered to
the model.

The conversation is saved in the .relay/ directory and resumed by the next
"relay chat". Use --new or /reset to start over.

Commands:
  /image <url> [question]   Ask about an image
  /reset                    Start a new conversation
  /exit                     Quit (Ctrl+D also works)

Press Ctrl+C during a reply to stop it.

Examples:
  relay chat
  relay chat --model grok-3-mini --new
  relay chat --proxy-target http://localhost:8080 --render`

const chatShortDesc string = "Interactive LLM chat through the relay"

var chatFlagKeys = []string{
	config.FlagProxyTarget,
	config.FlagModel,
	config.FlagVisionModel,
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.ChatFlags, chatFlagKeys)
			cmder.v = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.ChatFlags, config.FlagProxyTarget, &cmder.proxyTarget)
	config.AddStringFlag(cmd, config.ChatFlags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.ChatFlags, config.FlagVisionModel, &cmder.visionModel)
	cmd.Flags().StringVar(&cmder.system, "system", "", "System prompt for a new conversation")
	cmd.Flags().BoolVar(&cmder.newSession, "new", false, "Discard the saved conversation and start a new one")
	cmd.Flags().BoolVar(&cmder.render, "render", false, "Render replies as markdown once complete instead of streaming")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cliui.DisableColorUnlessTerminal()
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithFormat(logger.FormatPretty), logger.WithWriter(os.Stderr))

	model := c.v.GetString("client.model")
	client, closeTools, err := c.newClient(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeTools() }()

	ddm := dotdir.NewManager()
	if c.newSession {
		if err := ddm.ClearSession(c.configDir); err != nil {
			return err
		}
	}
	state, err := ddm.LoadSession(c.configDir)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	fmt.Fprintln(c.out)
	if state != nil && len(state.Messages) > 0 {
		fmt.Fprintf(c.out, "  %s Resuming conversation %s\n",
			cliui.SuccessMark,
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(state.Messages))),
		)
	} else {
		state = c.freshState(model)
		fmt.Fprintf(c.out, "  %s New conversation\n", cliui.DimStyle.Render("●"))
	}
	state.Model = model

	fmt.Fprintf(c.out, "  %s %s\n\n",
		cliui.KeyStyle.Render("Model:"),
		cliui.NameStyle.Render(model),
	)
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(c.out, userPrompt)
		if !scanner.Scan() {
			break
		}

		in := parseInput(scanner.Text())
		switch in.kind {
		case inputEmpty:
			continue
		case inputExit:
			fmt.Fprintln(c.out)
			return scanner.Err()
		case inputReset:
			state = c.freshState(model)
			if err := ddm.ClearSession(c.configDir); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "  %s New conversation\n\n", cliui.DimStyle.Render("●"))
			continue
		case inputInvalid:
			fmt.Fprintf(c.out, "  %s %s\n\n", cliui.FailMark, in.err)
			continue
		}

		state.Messages = append(state.Messages, in.message)

		reply, err := c.turn(ctx, client, state)
		if err != nil {
			fmt.Fprintf(c.out, "\n  %s %v\n\n", cliui.FailMark, err)
			// Remove the failed user message so it can be retried
			state.Messages = state.Messages[:len(state.Messages)-1]
			continue
		}

		state.Messages = append(state.Messages, llm.NewTextMessage(llm.RoleAssistant, reply))
		if err := ddm.SaveSession(state, c.configDir); err != nil {
			c.logger.Warn("failed to save session", "error", err)
		}

		fmt.Fprint(c.out, "\n\n")
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

func (c *chatCommander) freshState(model string) *dotdir.SessionState {
	state := &dotdir.SessionState{Model: model}
	if c.system != "" {
		state.Messages = append(state.Messages, llm.NewTextMessage(llm.RoleSystem, c.system))
	}
	return state
}

// newClient wires the chat client to the relay. Images are resolved locally
// and fall back to the relay's proxy-image route.
func (c *chatCommander) newClient(ctx context.Context) (*chat.Client, func() error, error) {
	relayBase := strings.TrimSuffix(c.v.GetString("client.proxy_target"), "/") + upstream.RelayPrefix

	prov, err := provider.New(provider.XAI)
	if err != nil {
		return nil, nil, err
	}

	gate := capability.Default()
	poster := upstream.New(upstream.Config{
		BaseURL: relayBase,
		Logger:  c.logger,
	})

	resolver := content.NewResolver(
		inmemory.New(imagecache.DefaultMaxEntries, imagecache.DefaultTTL),
		content.NewHTTPFetcher(nil),
		content.WithProxyBase(relayBase),
		content.WithLogger(c.logger),
	)

	visionRelay := vision.New(vision.Config{
		Client:     poster,
		Parser:     prov,
		Model:      c.v.GetString("vision.model"),
		MaxRetries: c.v.GetInt("vision.max_retries"),
		BaseDelay:  config.Duration(c.v.GetString("vision.base_delay"), vision.DefaultBaseDelay),
		Logger:     c.logger,
	})

	var servers []mcptool.ServerConfig
	if err := c.v.UnmarshalKey("mcp.servers", &servers); err != nil {
		return nil, nil, fmt.Errorf("reading mcp servers: %w", err)
	}
	tools := tool.NewRegistry()
	closeTools := mcptool.ConnectAll(ctx, tools, servers, c.logger)

	return chat.New(chat.Config{
		Upstream: poster,
		Provider: prov,
		Builder:  request.NewBuilder(gate, resolver, visionRelay, c.logger),
		Gate:     gate,
		Tools:    tools,
		Logger:   c.logger,
	}), closeTools, nil
}

// turn runs one chat turn and returns the reply. Ctrl+C stops the reply and
// keeps what arrived so far.
func (c *chatCommander) turn(ctx context.Context, client *chat.Client, state *dotdir.SessionState) (string, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var reply string
	opts := chat.Options{
		Messages: state.Messages,
		Config: request.ModelConfig{
			Model:       state.Model,
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
			Stream:      true,
		},
		Callbacks: stream.Callbacks{
			OnFinish: func(text string, _ *http.Response) { reply = text },
			OnBeforeTool: func(call llm.ToolCall) {
				fmt.Fprintf(c.out, "\n  %s %s\n", cliui.DimStyle.Render("→"), cliui.KeyStyle.Render(call.Function.Name))
			},
			OnAfterTool: func(res stream.ToolResult) {
				if res.IsError {
					fmt.Fprintf(c.out, "  %s %s\n", cliui.FailMark, cliui.DimStyle.Render(res.ErrorMsg))
				}
			},
		},
	}

	if c.render {
		err := cliui.Step(c.out, "thinking", func() error {
			return client.Chat(ctx, opts)
		})
		if err != nil {
			return "", err
		}
		rendered, err := cliui.RenderMarkdown(reply)
		if err != nil {
			c.logger.Debug("markdown rendering failed", "error", err)
		}
		fmt.Fprint(c.out, strings.TrimRight(rendered, "\n"))
		return reply, nil
	}

	fmt.Fprint(c.out, assistantPrompt)
	opts.Callbacks.OnUpdate = func(_, delta string) {
		fmt.Fprint(c.out, delta)
	}
	if err := client.Chat(ctx, opts); err != nil {
		return "", err
	}
	if reply == "" {
		return "", errors.New("empty reply")
	}
	return reply, nil
}
