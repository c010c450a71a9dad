package observe_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/papercomputeco/relay/pkg/observe"
)

func collect(reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	Expect(reader.Collect(context.Background(), &rm)).To(Succeed())
	return rm
}

func findSum(rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				Expect(ok).To(BeTrue(), "metric %s is not an int64 sum", name)
				return sum
			}
		}
	}
	Fail("metric not found: " + name)
	return metricdata.Sum[int64]{}
}

func valueWith(sum metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

var _ = Describe("Metrics", func() {
	var (
		ctx     context.Context
		reader  *sdkmetric.ManualReader
		mp      *sdkmetric.MeterProvider
		metrics *observe.Metrics
	)

	BeforeEach(func() {
		ctx = context.Background()
		reader = sdkmetric.NewManualReader()
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

		var err error
		metrics, err = observe.NewMetrics(mp)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(mp.Shutdown(ctx)).To(Succeed())
	})

	It("counts cache hits and misses separately", func() {
		metrics.RecordCacheLookup(ctx, true)
		metrics.RecordCacheLookup(ctx, false)
		metrics.RecordCacheLookup(ctx, false)

		sum := findSum(collect(reader), "relay.image_cache.lookups")
		Expect(valueWith(sum, "result", "hit")).To(Equal(int64(1)))
		Expect(valueWith(sum, "result", "miss")).To(Equal(int64(2)))
	})

	It("labels tool calls by outcome", func() {
		metrics.RecordToolCall(ctx, "lookup", false)
		metrics.RecordToolCall(ctx, "lookup", true)

		sum := findSum(collect(reader), "relay.tool.calls")
		Expect(valueWith(sum, "status", "ok")).To(Equal(int64(1)))
		Expect(valueWith(sum, "status", "error")).To(Equal(int64(1)))
	})

	It("records upstream status codes", func() {
		metrics.RecordUpstream(ctx, "stream", 200, 0.2)
		metrics.RecordUpstream(ctx, "stream", 503, 0.1)

		sum := findSum(collect(reader), "relay.upstream.requests")
		Expect(valueWith(sum, "status", "200")).To(Equal(int64(1)))
		Expect(valueWith(sum, "status", "503")).To(Equal(int64(1)))
	})

	It("falls back to the default instance", func() {
		Expect(observe.OrDefault(nil)).To(BeIdenticalTo(observe.DefaultMetrics()))
		Expect(observe.OrDefault(metrics)).To(BeIdenticalTo(metrics))
	})
})
