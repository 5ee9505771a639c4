package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NormalizeContentType", func() {
	DescribeTable("normalizing",
		func(contentType string, data []byte, expected string) {
			Expect(NormalizeContentType(contentType, data)).To(Equal(expected))
		},
		Entry("upper case", "IMAGE/JPEG", nil, "image/jpeg"),
		Entry("parameters", "image/png; charset=binary", nil, "image/png"),
		Entry("jpg alias", "image/jpg", nil, "image/jpeg"),
		Entry("sniffed PDF", "", []byte("%PDF-1.4 fake"), "application/pdf"),
		Entry("sniffed HEIC", "application/octet-stream", []byte("\x00\x00\x00\x18ftypheic\x00\x00"), "image/heic"),
	)
})

var _ = Describe("toPNG", func() {
	var (
		input       []byte
		contentType string
		output      []byte
		err         error
	)

	JustBeforeEach(func() {
		output, err = toPNG(input, contentType)
	})

	When("the input is already PNG", func() {
		BeforeEach(func() {
			input = []byte("not decoded")
			contentType = "image/png"
		})

		It("should return the input unchanged", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(Equal(input))
		})
	})

	When("the input is JPEG", func() {
		BeforeEach(func() {
			img := image.NewRGBA(image.Rect(0, 0, 4, 4))
			img.Set(1, 1, color.White)
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
			input = buf.Bytes()
			contentType = "image/jpeg"
		})

		It("should re-encode as PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			_, err := png.Decode(bytes.NewReader(output))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the input is not an image", func() {
		BeforeEach(func() {
			input = []byte("plain text")
			contentType = "text/plain"
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
		})
	})
})
