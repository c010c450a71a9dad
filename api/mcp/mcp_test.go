package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/api/mcp"
	"github.com/papercomputeco/relay/pkg/llm"
	relaylogger "github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/storage"
	"github.com/papercomputeco/relay/pkg/storage/inmemory"
)

// fakeDescriber records the messages it was asked to describe.
type fakeDescriber struct {
	got []llm.Message
	err error
}

func (f *fakeDescriber) Describe(_ context.Context, messages []llm.Message) (string, error) {
	f.got = messages
	if f.err != nil {
		return "", f.err
	}
	return "a cat on a mat", nil
}

type fakeResolver map[string]string

func (r fakeResolver) ResolveURL(_ context.Context, rawURL string) (string, error) {
	if v, ok := r[rawURL]; ok {
		return v, nil
	}
	return "", errors.New("404 not found")
}

func connect(ctx context.Context, server *mcp.Server) *sdk.ClientSession {
	clientTransport, serverTransport := sdk.NewInMemoryTransports()

	_, err := server.MCPServer().Connect(ctx, serverTransport, nil)
	Expect(err).NotTo(HaveOccurred())

	client := sdk.NewClient(&sdk.Implementation{Name: "relay-test", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	Expect(err).NotTo(HaveOccurred())
	return session
}

func textOf(res *sdk.CallToolResult) string {
	Expect(res.Content).NotTo(BeEmpty())
	tc, ok := res.Content[0].(*sdk.TextContent)
	Expect(ok).To(BeTrue())
	return tc.Text
}

var _ = Describe("MCP Server", func() {
	var (
		ctx       context.Context
		driver    *inmemory.Driver
		describer *fakeDescriber
		server    *mcp.Server
		session   *sdk.ClientSession
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		describer = &fakeDescriber{}

		var err error
		server, err = mcp.NewServer(mcp.Config{
			Driver:    driver,
			Describer: describer,
			Resolver:  fakeResolver{"https://img.example/cat.png": "data:image/png;base64,AAAA"},
			Logger:    relaylogger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		session = connect(ctx, server)
	})

	AfterEach(func() {
		session.Close()
	})

	Describe("NewServer", func() {
		It("returns an error when storage driver is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Logger: relaylogger.Nop()})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("storage driver is required"))
		})

		It("returns an error when logger is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Driver: driver})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger is required"))
		})

		It("returns an HTTP handler", func() {
			Expect(server.Handler()).NotTo(BeNil())
		})

		It("serves no tools in noop mode", func() {
			noop, err := mcp.NewServer(mcp.Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(noop.Handler()).NotTo(BeNil())
		})

		It("lists both tools", func() {
			res, err := session.ListTools(ctx, &sdk.ListToolsParams{})
			Expect(err).NotTo(HaveOccurred())

			names := []string{}
			for _, t := range res.Tools {
				names = append(names, t.Name)
			}
			Expect(names).To(ConsistOf("describe_image", "recent_turns"))
		})

		It("omits describe_image without a describer", func() {
			bare, err := mcp.NewServer(mcp.Config{Driver: driver, Logger: relaylogger.Nop()})
			Expect(err).NotTo(HaveOccurred())

			s := connect(ctx, bare)
			defer s.Close()

			res, err := s.ListTools(ctx, &sdk.ListToolsParams{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Tools).To(HaveLen(1))
			Expect(res.Tools[0].Name).To(Equal("recent_turns"))
		})
	})

	Describe("describe_image", func() {
		call := func(args map[string]any) *sdk.CallToolResult {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: "describe_image", Arguments: args})
			Expect(err).NotTo(HaveOccurred())
			return res
		}

		It("describes the resolved image with the question", func() {
			res := call(map[string]any{"url": "https://img.example/cat.png", "question": "what animal?"})
			Expect(res.IsError).To(BeFalse())
			Expect(textOf(res)).To(Equal("a cat on a mat"))

			Expect(describer.got).To(HaveLen(1))
			parts, ok := describer.got[0].Content.(llm.PartSequence)
			Expect(ok).To(BeTrue())
			Expect(parts.Text()).To(Equal("what animal?"))
			Expect(parts.Images()).To(HaveLen(1))
			Expect(parts.Images()[0].ImageURL.URL).To(Equal("data:image/png;base64,AAAA"))
		})

		It("reports an image that cannot be loaded", func() {
			res := call(map[string]any{"url": "https://img.example/gone.png"})
			Expect(res.IsError).To(BeTrue())
			Expect(textOf(res)).To(ContainSubstring("could not be loaded"))
			Expect(describer.got).To(BeNil())
		})

		It("requires a url", func() {
			res := call(map[string]any{"url": "  "})
			Expect(res.IsError).To(BeTrue())
			Expect(textOf(res)).To(Equal("url is required"))
		})

		It("reports a failed description", func() {
			describer.err = errors.New("vision model unavailable")
			res := call(map[string]any{"url": "https://img.example/cat.png"})
			Expect(res.IsError).To(BeTrue())
			Expect(textOf(res)).To(ContainSubstring("vision model unavailable"))
		})
	})

	Describe("recent_turns", func() {
		BeforeEach(func() {
			base := time.Now().UTC()
			for i := range 15 {
				t := storage.NewTurn("grok-3", "/v1/chat/completions", i%2 == 0)
				t.CreatedAt = base.Add(time.Duration(i) * time.Second)
				t.Prompt = fmt.Sprintf("question %d", i)
				t.Finish(200, fmt.Sprintf("answer %d", i), time.Second)
				Expect(driver.Put(ctx, t)).To(Succeed())
			}
		})

		decode := func(res *sdk.CallToolResult) mcp.RecentTurnsOutput {
			var out mcp.RecentTurnsOutput
			Expect(json.Unmarshal([]byte(textOf(res)), &out)).To(Succeed())
			return out
		}

		It("returns the ten newest turns by default", func() {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: "recent_turns", Arguments: map[string]any{}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			out := decode(res)
			Expect(out.Count).To(Equal(10))
			Expect(out.Turns[0].Prompt).To(Equal("question 14"))
			Expect(out.Turns[0].Response).To(Equal("answer 14"))
			Expect(out.Turns[9].Prompt).To(Equal("question 5"))
		})

		It("honors the limit", func() {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: "recent_turns", Arguments: map[string]any{"limit": 3}})
			Expect(err).NotTo(HaveOccurred())
			Expect(decode(res).Count).To(Equal(3))
		})
	})
})
