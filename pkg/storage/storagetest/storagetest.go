// Package storagetest holds the behaviour every storage.Driver must share,
// expressed as ginkgo specs that each driver suite runs against itself.
package storagetest

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
)

// DescribeDriver registers the shared driver specs. newDriver is called before
// every test and the returned driver is closed after it.
func DescribeDriver(newDriver func() storage.Driver) {
	var (
		driver storage.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	entry := func(location string, created time.Time) *narrative.MemoryLogEntry {
		return &narrative.MemoryLogEntry{
			Content:    "User: look\n\nNarrator: fog",
			Summary:    "fog rolls in",
			Location:   location,
			Type:       narrative.MemoryTypeEvent,
			Importance: narrative.DefaultImportance,
			CreatedAt:  created,
		}
	}

	Describe("turns", func() {
		It("assigns ids and returns turns oldest first", func() {
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			first, err := driver.CreateTurn(ctx, &narrative.Turn{Role: narrative.RoleUser, Content: "hello", CreatedAt: base})
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ID).NotTo(BeEmpty())

			_, err = driver.CreateTurn(ctx, &narrative.Turn{Role: narrative.RoleAssistant, Content: "hi", Location: "Harbor", CreatedAt: base.Add(time.Second)})
			Expect(err).NotTo(HaveOccurred())

			turns, err := driver.Turns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(2))
			Expect(turns[0].Content).To(Equal("hello"))
			Expect(turns[0].CreatedAt).To(BeTemporally("==", base))
			Expect(turns[1].Location).To(Equal("Harbor"))

			n, err := driver.CountTurns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
		})

		It("rejects empty content and unknown roles", func() {
			_, err := driver.CreateTurn(ctx, &narrative.Turn{Role: narrative.RoleUser, Content: "   "})
			Expect(errors.Is(err, storage.ErrInvalid)).To(BeTrue())

			_, err = driver.CreateTurn(ctx, &narrative.Turn{Role: "system", Content: "x"})
			Expect(errors.Is(err, storage.ErrInvalid)).To(BeTrue())

			n, err := driver.CountTurns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("patches a turn location", func() {
			t, err := driver.CreateTurn(ctx, &narrative.Turn{Role: narrative.RoleUser, Content: "go north"})
			Expect(err).NotTo(HaveOccurred())

			patched, err := driver.SetTurnLocation(ctx, t.ID, "Forest")
			Expect(err).NotTo(HaveOccurred())
			Expect(patched.Location).To(Equal("Forest"))
			Expect(patched.Content).To(Equal("go north"))
		})

		It("reports unknown turns as not found", func() {
			_, err := driver.SetTurnLocation(ctx, "missing", "Forest")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("settings", func() {
		It("returns zero settings before any save", func() {
			s, err := driver.Settings(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(*s).To(Equal(narrative.RuntimeSettings{}))
		})

		It("replaces settings on save", func() {
			Expect(driver.SaveSettings(ctx, &narrative.RuntimeSettings{BehaviorPrompt: "one"})).To(Succeed())
			Expect(driver.SaveSettings(ctx, &narrative.RuntimeSettings{BehaviorPrompt: "two", Lore: "dragons"})).To(Succeed())

			s, err := driver.Settings(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.BehaviorPrompt).To(Equal("two"))
			Expect(s.Lore).To(Equal("dragons"))
		})
	})

	Describe("memory logs", func() {
		It("stores entries with embeddings and defaults", func() {
			e := entry("Harbor", time.Time{})
			e.Type = "whatever"
			e.Embedding = []float32{0.25, -1, 3}

			created, err := driver.CreateMemoryLog(ctx, e)
			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).NotTo(BeEmpty())
			Expect(created.Type).To(Equal(narrative.MemoryTypeOther))

			got, err := driver.GetMemoryLog(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Embedding).To(Equal([]float32{0.25, -1, 3}))
			Expect(got.Summary).To(Equal("fog rolls in"))
		})

		It("rejects importance outside 1..10", func() {
			for _, importance := range []int{0, 11, -3} {
				e := entry("Harbor", time.Time{})
				e.Importance = importance
				_, err := driver.CreateMemoryLog(ctx, e)
				Expect(errors.Is(err, storage.ErrInvalid)).To(BeTrue())
			}
		})

		It("finds the latest entry for a location", func() {
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			_, err := driver.CreateMemoryLog(ctx, entry("Harbor", base))
			Expect(err).NotTo(HaveOccurred())
			newer, err := driver.CreateMemoryLog(ctx, entry("Harbor", base.Add(time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.CreateMemoryLog(ctx, entry("Forest", base.Add(2*time.Hour)))
			Expect(err).NotTo(HaveOccurred())

			latest, err := driver.LatestMemoryLogForLocation(ctx, "Harbor")
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.ID).To(Equal(newer.ID))

			_, err = driver.LatestMemoryLogForLocation(ctx, "Desert")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())

			all, err := driver.ListMemoryLogs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
			Expect(all[0].Location).To(Equal("Forest"))
		})

		It("applies partial updates and validates them", func() {
			created, err := driver.CreateMemoryLog(ctx, entry("Harbor", time.Time{}))
			Expect(err).NotTo(HaveOccurred())

			summary := "a storm"
			importance := 9
			updated, err := driver.UpdateMemoryLog(ctx, created.ID, storage.MemoryLogUpdate{
				Summary:    &summary,
				Importance: &importance,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Summary).To(Equal("a storm"))
			Expect(updated.Importance).To(Equal(9))
			Expect(updated.Location).To(Equal("Harbor"))

			bad := 42
			_, err = driver.UpdateMemoryLog(ctx, created.ID, storage.MemoryLogUpdate{Importance: &bad})
			Expect(errors.Is(err, storage.ErrInvalid)).To(BeTrue())

			_, err = driver.UpdateMemoryLog(ctx, "missing", storage.MemoryLogUpdate{Summary: &summary})
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})

		It("replaces and clears the stored embedding", func() {
			e := entry("Harbor", time.Time{})
			e.Embedding = []float32{1, 0}
			created, err := driver.CreateMemoryLog(ctx, e)
			Expect(err).NotTo(HaveOccurred())

			next := []float32{0.25, 0.75}
			_, err = driver.UpdateMemoryLog(ctx, created.ID, storage.MemoryLogUpdate{Embedding: &next})
			Expect(err).NotTo(HaveOccurred())
			got, err := driver.GetMemoryLog(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Embedding).To(Equal([]float32{0.25, 0.75}))

			_, err = driver.UpdateMemoryLog(ctx, created.ID, storage.MemoryLogUpdate{Embedding: &[]float32{}})
			Expect(err).NotTo(HaveOccurred())
			got, err = driver.GetMemoryLog(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Embedding).To(BeEmpty())
			Expect(got.Summary).To(Equal("fog rolls in"))
		})

		It("cascades transcript deletion", func() {
			created, err := driver.CreateMemoryLog(ctx, entry("Harbor", time.Time{}))
			Expect(err).NotTo(HaveOccurred())

			_, err = driver.CreateTranscript(ctx, &narrative.ArchivedTranscript{
				MemoryLogEntryID:  created.ID,
				TranscriptContent: "User: look\n\nNarrator: fog",
			})
			Expect(err).NotTo(HaveOccurred())

			transcripts, err := driver.Transcripts(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(transcripts).To(HaveLen(1))

			Expect(driver.DeleteMemoryLog(ctx, created.ID)).To(Succeed())

			transcripts, err = driver.Transcripts(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(transcripts).To(BeEmpty())

			err = driver.DeleteMemoryLog(ctx, created.ID)
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})

		It("refuses transcripts for unknown entries", func() {
			_, err := driver.CreateTranscript(ctx, &narrative.ArchivedTranscript{
				MemoryLogEntryID:  "missing",
				TranscriptContent: "x",
			})
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())
		})
	})
}
