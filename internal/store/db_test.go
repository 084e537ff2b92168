package store_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/timeclock/internal/store"
)

var _ = Describe("Database", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("NewDB", func() {
		It("should return error when config is nil", func() {
			db, err := store.NewDB(nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
			Expect(db).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			db, err := store.NewDB(&store.DBConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "test",
				Password: "password",
				DBName:   "testdb",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger"))
			Expect(db).To(BeNil())
		})

		It("should fail with invalid host", func() {
			db, err := store.NewDB(&store.DBConfig{
				Logger:   logger,
				Host:     "invalid-host-that-does-not-exist",
				Port:     5432,
				User:     "test",
				Password: "password",
				DBName:   "testdb",
			})
			Expect(err).To(HaveOccurred())
			Expect(db).To(BeNil())
		})
	})

	Describe("CloseDB", func() {
		It("should accept a nil database", func() {
			Expect(store.CloseDB(nil, logger)).To(Succeed())
		})
	})

	Describe("NewGormStore", func() {
		It("should validate its configuration", func() {
			_, err := store.NewGormStore(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))

			_, err = store.NewGormStore(&store.GormConfig{})
			Expect(err).To(MatchError(ContainSubstring("logger")))

			_, err = store.NewGormStore(&store.GormConfig{Logger: logger})
			Expect(err).To(MatchError(ContainSubstring("database")))
		})
	})
})
