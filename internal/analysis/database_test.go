package analysis

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/plate-watch/internal/vision"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveRecord", func() {
		var (
			record *Record
			err    error
		)

		BeforeEach(func() {
			record = &Record{
				ID:         "test-id",
				Plate:      "ABC1234",
				Confidence: 0.93,
				Attributes: &vision.VehicleAttributes{
					Color:    "blue",
					BodyType: "sedan",
				},
				CropFilename: "test-id_plate.png",
				CropMIME:     "image/png",
				CreatedAt:    time.Now(),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveRecord(record)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should save the record to the database", func() {
				saved, getErr := db.GetRecord("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.ID).To(Equal("test-id"))
			})
		})
	})

	Describe("GetRecord", func() {
		var (
			recordID string
			record   *Record
			err      error
		)

		JustBeforeEach(func() {
			record, err = db.GetRecord(recordID)
		})

		When("record exists", func() {
			BeforeEach(func() {
				recordID = "test-id"
				testRecord := &Record{
					ID:         "test-id",
					Plate:      "ABC1234",
					Confidence: 0.93,
					Attributes: &vision.VehicleAttributes{Color: "blue"},
					CreatedAt:  time.Now(),
				}
				Expect(db.SaveRecord(testRecord)).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the correct plate", func() {
				Expect(record.Plate).To(Equal("ABC1234"))
			})

			It("should round-trip the vehicle attributes", func() {
				Expect(record.Attributes).NotTo(BeNil())
				Expect(record.Attributes.Color).To(Equal("blue"))
			})
		})

		When("record does not exist", func() {
			var expectedErr error

			BeforeEach(func() {
				recordID = "nonexistent"
				expectedErr = errors.New("analysis not found: nonexistent")
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(expectedErr))
			})
		})
	})

	Describe("ListRecords", func() {
		var (
			records []*Record
			err     error
		)

		JustBeforeEach(func() {
			records, err = db.ListRecords()
		})

		When("records exist", func() {
			BeforeEach(func() {
				record1 := &Record{ID: "id1", Plate: "ABC1234", CreatedAt: time.Now()}
				record2 := &Record{ID: "id2", Plate: "XYZ999", CreatedAt: time.Now()}
				Expect(db.SaveRecord(record1)).NotTo(HaveOccurred())
				Expect(db.SaveRecord(record2)).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return all records", func() {
				Expect(records).To(HaveLen(2))
			})
		})

		When("no records exist", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an empty list", func() {
				Expect(records).To(BeEmpty())
			})
		})
	})

	Describe("DeleteRecord", func() {
		var (
			recordID string
			err      error
		)

		JustBeforeEach(func() {
			err = db.DeleteRecord(recordID)
		})

		When("record exists", func() {
			BeforeEach(func() {
				recordID = "test-id"
				record := &Record{ID: "test-id", Plate: "ABC1234", CreatedAt: time.Now()}
				Expect(db.SaveRecord(record)).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove the record from the database", func() {
				_, getErr := db.GetRecord("test-id")
				Expect(getErr).To(HaveOccurred())
			})
		})

		When("record does not exist", func() {
			BeforeEach(func() {
				recordID = "nonexistent"
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("Close", func() {
		It("should not return an error", func() {
			err := db.Close()
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
