package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewLocalStorage", func() {
		It("should create the base directory", func() {
			dir := filepath.Join(tmpDir, "nested", "receipts")
			_, err := NewLocalStorage(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(dir).To(BeADirectory())
		})
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "test.jpg"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should return the stored name", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal(filename))
			})

			It("should write the file to disk", func() {
				content, readErr := os.ReadFile(filepath.Join(tmpDir, filename))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(content).To(Equal(data))
			})
		})

		When("the name escapes the base directory", func() {
			BeforeEach(func() {
				filename = "../escape.jpg"
			})

			It("should refuse it", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
				Expect(filepath.Join(filepath.Dir(tmpDir), "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the name is empty", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("should refuse it", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("test.jpg", []byte("test file content"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return its content", func() {
				data, err := storage.Get("test.jpg")
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("test file content")))
			})
		})

		When("the file does not exist", func() {
			It("should return ErrNotFound", func() {
				_, err := storage.Get("missing.jpg")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		When("the name is a path", func() {
			It("should refuse it", func() {
				_, err := storage.Get("sub/test.jpg")
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
			})
		})
	})

	Describe("Delete", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("test.jpg", []byte("test file content"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove it", func() {
				Expect(storage.Delete("test.jpg")).To(Succeed())
				Expect(filepath.Join(tmpDir, "test.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the file does not exist", func() {
			It("should return an error", func() {
				Expect(storage.Delete("missing.jpg")).To(MatchError(ContainSubstring("deleting file")))
			})
		})
	})
})
