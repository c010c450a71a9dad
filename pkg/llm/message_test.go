package llm_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/llm"
)

var _ = Describe("Message", func() {
	Describe("UnmarshalJSON", func() {
		It("decodes string content as PlainText", func() {
			var m llm.Message
			Expect(json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &m)).To(Succeed())
			Expect(m.Role).To(Equal(llm.RoleUser))
			Expect(m.Content).To(Equal(llm.PlainText("hi")))
		})

		It("decodes array content as a PartSequence", func() {
			var m llm.Message
			err := json.Unmarshal([]byte(`{"role":"user","content":[
				{"type":"text","text":"what is this?"},
				{"type":"image_url","image_url":{"url":"https://example.com/a.png"}}
			]}`), &m)
			Expect(err).NotTo(HaveOccurred())

			parts, ok := m.Content.(llm.PartSequence)
			Expect(ok).To(BeTrue())
			Expect(parts).To(HaveLen(2))
			Expect(parts.Text()).To(Equal("what is this?"))
			Expect(parts.HasImages()).To(BeTrue())
			Expect(parts.Images()[0].ImageURL.URL).To(Equal("https://example.com/a.png"))
		})

		It("decodes an empty part array as empty PlainText", func() {
			var m llm.Message
			Expect(json.Unmarshal([]byte(`{"role":"user","content":[]}`), &m)).To(Succeed())
			Expect(m.Content).To(Equal(llm.PlainText("")))
		})

		It("leaves content nil for assistant tool_calls messages", func() {
			var m llm.Message
			err := json.Unmarshal([]byte(`{"role":"assistant","content":null,"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{}"}}
			]}`), &m)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Content).To(BeNil())
			Expect(m.ToolCalls).To(HaveLen(1))
			Expect(m.GetText()).To(BeEmpty())
		})

		It("rejects non string, non array content", func() {
			var m llm.Message
			err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &m)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("MarshalJSON", func() {
		It("encodes PlainText as a JSON string", func() {
			data, err := json.Marshal(llm.NewTextMessage(llm.RoleUser, "hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(MatchJSON(`{"role":"user","content":"hello"}`))
		})

		It("encodes a PartSequence as an array of parts", func() {
			m := llm.Message{
				Role: llm.RoleUser,
				Content: llm.PartSequence{
					llm.TextPart("look"),
					llm.ImagePart("data:image/png;base64,AAAA"),
				},
			}
			data, err := json.Marshal(m)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(MatchJSON(`{"role":"user","content":[
				{"type":"text","text":"look"},
				{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}
			]}`))
		})

		It("omits content for tool_calls messages and keeps tool fields", func() {
			m := llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: llm.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`},
				}},
			}
			data, err := json.Marshal(m)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(MatchJSON(`{"role":"assistant","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"x\"}"}}
			]}`))
		})
	})

	Describe("IsEmpty", func() {
		It("treats nil, blank text and text-only blank parts as empty", func() {
			Expect(llm.IsEmpty(nil)).To(BeTrue())
			Expect(llm.IsEmpty(llm.PlainText("  "))).To(BeTrue())
			Expect(llm.IsEmpty(llm.PartSequence{llm.TextPart("")})).To(BeTrue())
		})

		It("treats an image-only sequence as non empty", func() {
			Expect(llm.IsEmpty(llm.PartSequence{llm.ImagePart("https://example.com/a.png")})).To(BeFalse())
		})
	})
})

var _ = Describe("RequestPayload", func() {
	It("omits gated optional fields when unset", func() {
		p := llm.RequestPayload{
			Messages:    []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
			Model:       "grok-3-mini",
			Stream:      true,
			Temperature: 0.5,
			TopP:        1,
		}
		data, err := json.Marshal(p)
		Expect(err).NotTo(HaveOccurred())

		var fields map[string]any
		Expect(json.Unmarshal(data, &fields)).To(Succeed())
		Expect(fields).NotTo(HaveKey("presence_penalty"))
		Expect(fields).NotTo(HaveKey("frequency_penalty"))
		Expect(fields).NotTo(HaveKey("reasoning_effort"))
		Expect(fields).NotTo(HaveKey("tools"))
		Expect(fields).To(HaveKeyWithValue("temperature", 0.5))
	})

	It("appends a tool round after the existing messages", func() {
		p := &llm.RequestPayload{Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}}
		p.AppendToolRound(
			llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1"}}},
			llm.Message{Role: llm.RoleTool, ToolCallID: "call_1", Content: llm.PlainText("ok")},
		)
		Expect(p.Messages).To(HaveLen(3))
		Expect(p.Messages[1].Role).To(Equal(llm.RoleAssistant))
		Expect(p.Messages[2].ToolCallID).To(Equal("call_1"))
	})
})
