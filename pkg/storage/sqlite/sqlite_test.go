package sqlite_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/storage"
	"github.com/papercomputeco/relay/pkg/storage/sqlite"
)

// sqliteTestTurn creates a finished turn created offset from now.
func sqliteTestTurn(prompt string, offset time.Duration) *storage.Turn {
	t := storage.NewTurn("grok-3", "/v1/chat/completions", true)
	t.Prompt = prompt
	t.CreatedAt = time.Now().Add(offset).UTC()
	t.Finish(200, "reply to "+prompt, 40*time.Millisecond)
	return t
}

var _ = Describe("Driver", func() {
	var (
		driver *sqlite.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		driver, err = sqlite.NewDriver(ctx, ":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	Describe("NewDriver", func() {
		It("creates a driver with file database", func() {
			tmpDir := GinkgoT().TempDir()
			dbPath := filepath.Join(tmpDir, "test.db")

			s, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			// Verify file was created
			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})

		It("reopens an existing database without losing turns", func() {
			dbPath := filepath.Join(GinkgoT().TempDir(), "turns.db")

			first, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			turn := sqliteTestTurn("persist me", 0)
			Expect(first.Put(ctx, turn)).To(Succeed())
			Expect(first.Close()).To(Succeed())

			second, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer second.Close()

			got, err := second.Get(ctx, turn.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Prompt).To(Equal("persist me"))
		})
	})

	Describe("Put and Get", func() {
		It("round-trips every field", func() {
			turn := sqliteTestTurn("hello", 0)

			Expect(driver.Put(ctx, turn)).To(Succeed())

			got, err := driver.Get(ctx, turn.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(turn.ID))
			Expect(got.Model).To(Equal("grok-3"))
			Expect(got.Path).To(Equal("/v1/chat/completions"))
			Expect(got.Stream).To(BeTrue())
			Expect(got.Status).To(Equal(200))
			Expect(got.Prompt).To(Equal("hello"))
			Expect(got.Response).To(Equal("reply to hello"))
			Expect(got.DurationMS).To(Equal(int64(40)))
			Expect(got.CreatedAt).To(BeTemporally("~", turn.CreatedAt, time.Millisecond))
		})

		It("ignores a second put of the same ID", func() {
			turn := sqliteTestTurn("first", 0)
			Expect(driver.Put(ctx, turn)).To(Succeed())

			turn.Prompt = "second"
			Expect(driver.Put(ctx, turn)).To(Succeed())

			got, err := driver.Get(ctx, turn.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Prompt).To(Equal("first"))
		})

		It("rejects a nil turn", func() {
			Expect(driver.Put(ctx, nil)).To(MatchError(storage.ErrNilTurn))
		})

		It("returns NotFoundError for an unknown ID", func() {
			id := uuid.New()
			_, err := driver.Get(ctx, id)

			var notFound storage.NotFoundError
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.ID).To(Equal(id.String()))
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			Expect(driver.Put(ctx, sqliteTestTurn("oldest", -2*time.Hour))).To(Succeed())
			Expect(driver.Put(ctx, sqliteTestTurn("newest", 0))).To(Succeed())
			Expect(driver.Put(ctx, sqliteTestTurn("middle", -time.Hour))).To(Succeed())
		})

		It("returns turns newest first", func() {
			turns, err := driver.List(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(3))
			Expect(turns[0].Prompt).To(Equal("newest"))
			Expect(turns[1].Prompt).To(Equal("middle"))
			Expect(turns[2].Prompt).To(Equal("oldest"))
		})

		It("honors the limit", func() {
			turns, err := driver.List(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(2))
			Expect(turns[1].Prompt).To(Equal("middle"))
		})
	})
})
