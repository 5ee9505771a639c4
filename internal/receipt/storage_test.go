package receipt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		basePath string
		storage  *LocalStorage
	)

	BeforeEach(func() {
		basePath = filepath.Join(GinkgoT().TempDir(), "receipts")
		var err error
		storage, err = NewLocalStorage(basePath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the base directory", func() {
		info, err := os.Stat(basePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	Describe("Save and Get", func() {
		It("should round trip file contents", func() {
			name, err := storage.Save("id-1_receipt.jpg", []byte("image"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("id-1_receipt.jpg"))

			data, err := storage.Get(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("image")))
		})

		It("should not overwrite an existing file", func() {
			_, err := storage.Save("id-1_receipt.jpg", []byte("first"))
			Expect(err).NotTo(HaveOccurred())
			_, err = storage.Save("id-1_receipt.jpg", []byte("second"))
			Expect(err).To(HaveOccurred())

			data, _ := storage.Get("id-1_receipt.jpg")
			Expect(data).To(Equal([]byte("first")))
		})

		It("should refuse names that escape the directory", func() {
			_, err := storage.Save("../escape.jpg", []byte("x"))
			Expect(err).To(HaveOccurred())
			_, err = os.Stat(filepath.Join(filepath.Dir(basePath), "escape.jpg"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("should report ErrNotFound for missing files", func() {
			_, err := storage.Get("missing.jpg")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save("gone.png", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete("gone.png")).To(Succeed())
			_, err = storage.Get("gone.png")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should fail for missing files", func() {
			Expect(storage.Delete("missing.png")).NotTo(Succeed())
		})
	})
})

var _ = DescribeTable("sanitizeFilename",
	func(in string, expected string) {
		Expect(sanitizeFilename(in)).To(Equal(expected))
	},
	Entry("plain name", "receipt.jpg", "receipt.jpg"),
	Entry("phone camera noise", "IMG_2041 (1)@#!.JPG", "IMG_2041 1.jpg"),
	Entry("directory components", "../../etc/passwd", "passwd"),
	Entry("nothing left", "@@@.png", "receipt.png"),
	Entry("no extension", "scan", "scan"),
	Entry("long name", strings.Repeat("a", 80)+".pdf", strings.Repeat("a", 50)+".pdf"),
	Entry("collapsed spaces", "fuel   receipt.png", "fuel receipt.png"),
)
