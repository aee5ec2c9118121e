package sqlite_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/storyloom/pkg/narrative"
	"github.com/papercomputeco/storyloom/pkg/storage"
	"github.com/papercomputeco/storyloom/pkg/storage/sqlite"
	"github.com/papercomputeco/storyloom/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	Describe("NewDriver", func() {
		It("creates a driver with file database", func() {
			dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")

			s, err := sqlite.NewDriver(context.Background(), dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})

		It("persists turns across reopen", func() {
			ctx := context.Background()
			dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")

			s, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.CreateTurn(ctx, &narrative.Turn{Role: narrative.RoleUser, Content: "hello"})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Close()).To(Succeed())

			s, err = sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			n, err := s.CountTurns(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})

		It("creates the tables and the cascading transcript key", func() {
			ctx := context.Background()
			s, err := sqlite.NewDriver(ctx, ":memory:")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			rows, err := s.DB().QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
			Expect(err).NotTo(HaveOccurred())
			var tables []string
			for rows.Next() {
				var name string
				Expect(rows.Scan(&name)).To(Succeed())
				tables = append(tables, name)
			}
			Expect(rows.Close()).To(Succeed())
			Expect(tables).To(ContainElements("turns", "memory_logs", "archived_transcripts", "runtime_settings"))

			var table, onDelete string
			Expect(s.DB().QueryRowContext(ctx,
				`SELECT "table", on_delete FROM pragma_foreign_key_list('archived_transcripts')`,
			).Scan(&table, &onDelete)).To(Succeed())
			Expect(table).To(Equal("memory_logs"))
			Expect(onDelete).To(Equal("CASCADE"))
		})

		It("migrates an existing database without changes", func() {
			ctx := context.Background()
			dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")

			for range 2 {
				s, err := sqlite.NewDriver(ctx, dbPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(s.Close()).To(Succeed())
			}
		})

		It("requires a path", func() {
			_, err := sqlite.NewDriver(context.Background(), "")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("shared behaviour", func() {
		storagetest.DescribeDriver(func() storage.Driver {
			d, err := sqlite.NewDriver(context.Background(), ":memory:")
			Expect(err).NotTo(HaveOccurred())
			return d
		})
	})
})
