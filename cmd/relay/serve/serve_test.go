package servecmder

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/eventstream/kafka"
	"github.com/papercomputeco/relay/pkg/eventstream/nop"
	"github.com/papercomputeco/relay/pkg/imagecache/inmemory"
	imagesqlite "github.com/papercomputeco/relay/pkg/imagecache/sqlite"
	"github.com/papercomputeco/relay/pkg/logger"
	storageinmemory "github.com/papercomputeco/relay/pkg/storage/inmemory"
	"github.com/papercomputeco/relay/pkg/storage/sqlite"
)

var _ = Describe("NewServeCmd", func() {
	It("registers every serve flag", func() {
		cmd := NewServeCmd()
		Expect(cmd.Use).To(Equal("serve"))
		for _, key := range serveFlagKeys {
			def := config.ServeFlags[key]
			Expect(cmd.Flags().Lookup(def.Name)).NotTo(BeNil(), def.Name)
		}
	})

	It("defaults flags from the config defaults", func() {
		cmd := NewServeCmd()
		Expect(cmd.Flags().Lookup("upstream").DefValue).To(Equal("https://api.x.ai"))
		Expect(cmd.Flags().Lookup("proxy-listen").DefValue).To(Equal(":8080"))
		Expect(cmd.Flags().Lookup("cache-provider").DefValue).To(Equal("memory"))
	})
})

var _ = Describe("serve backends", func() {
	var (
		tmpDir string
		v      *viper.Viper
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "serve-test-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, tmpDir)

		v, err = config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	Describe("newStorageDriver", func() {
		It("uses memory when nothing is configured", func() {
			driver, err := newStorageDriver(ctx, v, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(driver).To(BeAssignableToTypeOf(&storageinmemory.Driver{}))
		})

		It("uses SQLite when a path is configured", func() {
			v.Set("storage.sqlite_path", filepath.Join(tmpDir, "relay.db"))

			driver, err := newStorageDriver(ctx, v, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(driver.Close)
			Expect(driver).To(BeAssignableToTypeOf(&sqlite.Driver{}))
		})
	})

	Describe("newImageCache", func() {
		It("uses memory by default", func() {
			cache, err := newImageCache(v, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(cache).To(BeAssignableToTypeOf(&inmemory.Cache{}))
		})

		It("uses SQLite when selected", func() {
			v.Set("cache.provider", "sqlite")
			v.Set("cache.sqlite_path", filepath.Join(tmpDir, "images.db"))

			cache, err := newImageCache(v, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(cache.Close)
			Expect(cache).To(BeAssignableToTypeOf(&imagesqlite.Cache{}))
		})

		It("requires a path for SQLite", func() {
			v.Set("cache.provider", "sqlite")

			_, err := newImageCache(v, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("cache.sqlite_path")))
		})

		It("rejects unknown providers", func() {
			v.Set("cache.provider", "redis")

			_, err := newImageCache(v, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("unknown cache provider")))
		})
	})

	Describe("newPublisher", func() {
		It("uses the nop publisher by default", func() {
			pub, err := newPublisher(v, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(pub).To(BeAssignableToTypeOf(&nop.Publisher{}))
		})

		It("builds a Kafka publisher from brokers and topic", func() {
			v.Set("eventstream.provider", "kafka")
			v.Set("eventstream.brokers", "localhost:9092,localhost:9093")

			pub, err := newPublisher(v, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(pub.Close)
			Expect(pub).To(BeAssignableToTypeOf(&kafka.Publisher{}))
		})

		It("fails for Kafka without brokers", func() {
			v.Set("eventstream.provider", "kafka")

			_, err := newPublisher(v, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("broker")))
		})

		It("rejects unknown providers", func() {
			v.Set("eventstream.provider", "nats")

			_, err := newPublisher(v, logger.Nop())
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("newLogger", func() {
	It("rejects unknown formats", func() {
		c := &ServeCommander{logFormat: "xml"}
		_, _, err := c.newLogger()
		Expect(err).To(MatchError(ContainSubstring("unknown log format")))
	})

	It("also writes JSON to the log file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "relay.log")
		c := &ServeCommander{logFormat: "text", logFile: path}

		log, closeLog, err := c.newLogger()
		Expect(err).NotTo(HaveOccurred())
		log.Info("listening", "addr", ":8080", "api_key", "xai-secret")
		closeLog()

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"msg":"listening"`))
		Expect(string(data)).NotTo(ContainSubstring("xai-secret"))
	})
})
