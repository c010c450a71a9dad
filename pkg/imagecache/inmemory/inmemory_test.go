package inmemory_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/imagecache"
	"github.com/papercomputeco/relay/pkg/imagecache/inmemory"
)

var _ = Describe("Cache", func() {
	var (
		ctx   context.Context
		cache *inmemory.Cache
	)

	BeforeEach(func() {
		ctx = context.Background()
		cache = inmemory.New(2, time.Minute)
	})

	It("satisfies imagecache.Cache", func() {
		var _ imagecache.Cache = cache
	})

	It("reports a miss for unknown keys", func() {
		v, ok, err := cache.Get(ctx, "https://example.com/a.png")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(v).To(BeEmpty())
	})

	It("returns stored values", func() {
		Expect(cache.Put(ctx, "a", "data:image/png;base64,AAA")).To(Succeed())

		v, ok, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("data:image/png;base64,AAA"))
	})

	It("evicts the least recently used entry when full", func() {
		Expect(cache.Put(ctx, "a", "1")).To(Succeed())
		Expect(cache.Put(ctx, "b", "2")).To(Succeed())

		// Touch a so b becomes the oldest.
		_, ok, _ := cache.Get(ctx, "a")
		Expect(ok).To(BeTrue())

		Expect(cache.Put(ctx, "c", "3")).To(Succeed())
		Expect(cache.Len()).To(Equal(2))

		_, ok, _ = cache.Get(ctx, "b")
		Expect(ok).To(BeFalse())
		_, ok, _ = cache.Get(ctx, "a")
		Expect(ok).To(BeTrue())
		_, ok, _ = cache.Get(ctx, "c")
		Expect(ok).To(BeTrue())
	})

	It("expires entries after the ttl", func() {
		short := inmemory.New(2, 50*time.Millisecond)
		Expect(short.Put(ctx, "a", "1")).To(Succeed())

		_, ok, _ := short.Get(ctx, "a")
		Expect(ok).To(BeTrue())

		Eventually(func() bool {
			_, ok, _ := short.Get(ctx, "a")
			return ok
		}).WithTimeout(2 * time.Second).WithPolling(10 * time.Millisecond).Should(BeFalse())
	})

	It("replaces the value when a key is written again", func() {
		Expect(cache.Put(ctx, "a", "1")).To(Succeed())
		Expect(cache.Put(ctx, "a", "2")).To(Succeed())

		v, ok, _ := cache.Get(ctx, "a")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("2"))
		Expect(cache.Len()).To(Equal(1))
	})

	It("falls back to defaults for non-positive bounds", func() {
		c := inmemory.New(0, 0)
		for i := range imagecache.DefaultMaxEntries + 1 {
			Expect(c.Put(ctx, fmt.Sprintf("k%d", i), "v")).To(Succeed())
		}
		Expect(c.Len()).To(Equal(imagecache.DefaultMaxEntries))
	})

	It("empties on close", func() {
		Expect(cache.Put(ctx, "a", "1")).To(Succeed())
		Expect(cache.Close()).To(Succeed())
		Expect(cache.Len()).To(BeZero())
	})
})
