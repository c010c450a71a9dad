package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/storage"
)

var _ = Describe("Event", func() {
	It("builds request metadata from the turn", func() {
		turn := storage.NewTurn("grok-3", "/v1/chat/completions", true)
		turn.CreatedAt = time.Unix(1735689600, 0).UTC()
		turn.Finish(200, "hi", 2*time.Second)

		event := eventstream.NewTurnPersistedEvent(turn, eventstream.EventSource{
			Service:  "relay",
			Provider: "xai",
		})

		Expect(event.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(event.EventType).To(Equal(eventstream.EventTypeTurnPersisted))
		Expect(event.EventID).NotTo(BeEmpty())
		Expect(event.RequestMeta.Path).To(Equal("/v1/chat/completions"))
		Expect(event.RequestMeta.StartedAt).To(Equal(turn.CreatedAt))
		Expect(event.RequestMeta.CompletedAt).To(Equal(turn.CreatedAt.Add(2 * time.Second)))
		Expect(event.RequestMeta.DurationMs).To(Equal(int64(2000)))
		Expect(event.RequestMeta.Streaming).To(BeTrue())
		Expect(event.RequestMeta.HTTPStatus).To(Equal(200))
		Expect(event.Turn.ID).To(Equal(turn.ID))
	})

	It("marshals TurnPersistedEvent with expected top-level keys", func() {
		turn := storage.NewTurn("grok-3", "/v1/chat/completions", false)
		event := eventstream.NewTurnPersistedEvent(turn, eventstream.EventSource{Provider: "xai"})

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("source"))
		Expect(got).To(HaveKey("request_meta"))
		Expect(got).To(HaveKey("turn"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeTurnPersisted).To(Equal("relay.turn.persisted"))
	})

	It("provides ErrNilTurnEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilTurnEvent).NotTo(BeNil())
		Expect(eventstream.ErrNilTurnEvent).To(MatchError("nil turn event"))
	})
})
