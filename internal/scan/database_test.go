package scan

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-scanner/internal/auth"
)

var _ = Describe("BoltDB", func() {
	var (
		ctx    context.Context
		tmpDir string
		dbPath string
		db     *BoltDB
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		now = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveScan", func() {
		var (
			scan *Scan
			err  error
		)

		BeforeEach(func() {
			scan = &Scan{
				ID:            "test-id",
				UserID:        "alice",
				ImageURL:      "/api/scans/test-id/image",
				ExtractedText: "TOTAL 10,00",
				TaxID:         ptr("12.345.678/0001-99"),
				Total:         ptr(10.0),
				Confidence:    91,
				Filename:      "test-id_nota.png",
				ContentType:   "image/png",
				CreatedAt:     now,
			}
		})

		JustBeforeEach(func() {
			err = db.SaveScan(ctx, scan)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should round trip every field", func() {
				saved, getErr := db.GetScan(ctx, "test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.UserID).To(Equal("alice"))
				Expect(saved.TaxID).To(HaveValue(Equal("12.345.678/0001-99")))
				Expect(saved.Date).To(BeNil())
				Expect(saved.Total).To(HaveValue(Equal(10.0)))
				Expect(saved.CreatedAt.Equal(now)).To(BeTrue())
			})
		})
	})

	Describe("GetScan", func() {
		When("the scan does not exist", func() {
			It("returns the error", func() {
				_, err := db.GetScan(ctx, "missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListScans", func() {
		var (
			filter Filter
			scans  []*Scan
			err    error
		)

		BeforeEach(func() {
			filter = Filter{}
			for _, s := range []*Scan{
				{ID: "old", UserID: "alice", ExtractedText: "padaria", CreatedAt: now.Add(-2 * time.Hour)},
				{ID: "new", UserID: "alice", TaxID: ptr("12.345.678/0001-99"), CreatedAt: now},
				{ID: "mid", UserID: "bob", Date: ptr("05/03/2024"), CreatedAt: now.Add(-time.Hour)},
			} {
				Expect(db.SaveScan(ctx, s)).To(Succeed())
			}
		})

		JustBeforeEach(func() {
			scans, err = db.ListScans(ctx, filter)
		})

		ids := func() []string {
			out := make([]string, 0, len(scans))
			for _, s := range scans {
				out = append(out, s.ID)
			}
			return out
		}

		When("there is no filter", func() {
			It("should return every scan newest first", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(ids()).To(Equal([]string{"new", "mid", "old"}))
			})
		})

		When("filtering by user", func() {
			BeforeEach(func() {
				filter.UserID = "alice"
			})

			It("should return only that user's scans", func() {
				Expect(ids()).To(Equal([]string{"new", "old"}))
			})
		})

		When("filtering by tax ID", func() {
			BeforeEach(func() {
				filter.Query = "345.678"
			})

			It("should match the tax ID", func() {
				Expect(ids()).To(Equal([]string{"new"}))
			})
		})

		When("filtering by text in another case", func() {
			BeforeEach(func() {
				filter.Query = "PADARIA"
			})

			It("should match case-insensitively", func() {
				Expect(ids()).To(Equal([]string{"old"}))
			})
		})

		When("combining user and query", func() {
			BeforeEach(func() {
				filter = Filter{UserID: "alice", Query: "05/03"}
			})

			It("should apply both", func() {
				Expect(scans).To(BeEmpty())
			})
		})
	})

	Describe("DeleteScan", func() {
		BeforeEach(func() {
			Expect(db.SaveScan(ctx, &Scan{ID: "gone", CreatedAt: now})).To(Succeed())
		})

		It("should remove the scan", func() {
			Expect(db.DeleteScan(ctx, "gone")).To(Succeed())
			_, err := db.GetScan(ctx, "gone")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("users", func() {
		var user *auth.User

		BeforeEach(func() {
			user = &auth.User{ID: "u1", Email: "alice@example.com", PasswordHash: "hash", CreatedAt: now}
			Expect(db.CreateUser(ctx, user)).To(Succeed())
		})

		It("should find the user by email", func() {
			found, err := db.GetUserByEmail(ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal("u1"))
			Expect(found.PasswordHash).To(Equal("hash"))
		})

		It("should reject a duplicate email", func() {
			err := db.CreateUser(ctx, &auth.User{ID: "u2", Email: "alice@example.com"})
			Expect(err).To(MatchError(auth.ErrUserExists))
		})

		It("returns the error for an unknown email", func() {
			_, err := db.GetUserByEmail(ctx, "nobody@example.com")
			Expect(err).To(MatchError(auth.ErrUserNotFound))
		})
	})

	When("the database is reopened", func() {
		It("should keep stored scans", func() {
			Expect(db.SaveScan(ctx, &Scan{ID: "kept", CreatedAt: now})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetScan(ctx, "kept")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})

var _ = Describe("escapeLike", func() {
	It("should escape wildcards", func() {
		Expect(escapeLike(`50%_off\`)).To(Equal(`50\%\_off\\`))
	})
})
