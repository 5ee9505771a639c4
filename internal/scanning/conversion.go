package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// HEIF brands found at offset 8 of the ftyp box
var heifBrands = map[string]bool{
	"heic": true,
	"heix": true,
	"heif": true,
	"mif1": true,
	"msf1": true,
}

// NormalizeContentType lower-cases a MIME type, strips parameters and sniffs
// the bytes when the type is missing or generic.
func NormalizeContentType(contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	if isHEIC(data) {
		return "image/heic"
	}
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}

// isHEIC checks the ISO-BMFF ftyp box for a HEIF brand
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	return heifBrands[string(data[8:12])]
}

// renderPDF rasterizes the first page of a PDF; receipts are single page
func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	if isHEIC(data) || strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif") {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format %q (supported: JPEG, PNG, GIF, HEIC, HEIF, PDF): %w", mimeType, err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// toPNG converts PDFs and non-PNG images to PNG. PNG input is returned unchanged.
func toPNG(data []byte, contentType string) ([]byte, error) {
	mimeType := NormalizeContentType(contentType, data)
	if mimeType == "image/png" && !isHEIC(data) {
		return data, nil
	}

	var (
		img image.Image
		err error
	)
	if mimeType == "application/pdf" {
		img, err = renderPDF(data)
	} else {
		img, err = decodeImage(data, mimeType)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
