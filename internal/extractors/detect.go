package extractors

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// sniffLen is how many leading bytes detection inspects.
const sniffLen = 512

// Detect determines a document's file type from its content signature,
// falling back to the filename extension only when the signature is
// inconclusive. A renamed file therefore detects by what it is, not
// what it claims to be.
func Detect(name string, open driven.ContentOpener) (domain.FileType, error) {
	rc, err := open()
	if err != nil {
		return domain.TypeUnknown, fmt.Errorf("%w: opening content: %v", domain.ErrUnreadableInput, err)
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return domain.TypeUnknown, fmt.Errorf("%w: reading content: %v", domain.ErrUnreadableInput, err)
	}
	head = head[:n]

	if ft, ok := detectSignature(head); ok {
		return ft, nil
	}
	if ft, ok := detectExtension(name); ok {
		return ft, nil
	}
	if looksLikeText(head) {
		return domain.TypeText, nil
	}
	return domain.TypeUnknown, nil
}

// detectSignature matches well-known magic numbers.
func detectSignature(head []byte) (domain.FileType, bool) {
	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return domain.TypePDF, true

	// OOXML documents (docx/xlsx/pptx) are ZIP containers.
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return domain.TypeOffice, true

	// Legacy OLE2 office documents (doc/xls/ppt).
	case bytes.HasPrefix(head, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}):
		return domain.TypeOffice, true

	case bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}), // JPEG
		bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")),
		bytes.HasPrefix(head, []byte("GIF87a")),
		bytes.HasPrefix(head, []byte("GIF89a")),
		bytes.HasPrefix(head, []byte("II*\x00")), // TIFF little-endian
		bytes.HasPrefix(head, []byte("MM\x00*")), // TIFF big-endian
		bytes.HasPrefix(head, []byte("BM")):
		return domain.TypeImage, true

	// DWG version strings all start "AC10".
	case bytes.HasPrefix(head, []byte("AC10")):
		return domain.TypeCAD, true

	case looksLikeDXF(head):
		return domain.TypeCAD, true
	}
	return domain.TypeUnknown, false
}

// looksLikeDXF recognises the group-code preamble of an ASCII DXF file:
// a "0" code line followed by SECTION.
func looksLikeDXF(head []byte) bool {
	s := strings.TrimSpace(string(head))
	if !strings.HasPrefix(s, "0") {
		return false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(s, "0"))
	return strings.HasPrefix(rest, "SECTION")
}

// detectExtension maps filename extensions for formats whose signature
// was inconclusive.
func detectExtension(name string) (domain.FileType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return domain.TypePDF, true
	case ".docx", ".xlsx", ".pptx", ".doc", ".xls", ".ppt":
		return domain.TypeOffice, true
	case ".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff", ".bmp":
		return domain.TypeImage, true
	case ".dwg", ".dxf":
		return domain.TypeCAD, true
	case ".txt", ".md", ".csv", ".log":
		return domain.TypeText, true
	}
	return domain.TypeUnknown, false
}

// looksLikeText accepts content that is valid UTF-8 without control
// bytes beyond the usual whitespace.
func looksLikeText(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	// The sniff window may cut a multi-byte rune; drop the partial tail.
	for i := 0; i < utf8.UTFMax-1 && len(head) > 0 && !utf8.Valid(head); i++ {
		head = head[:len(head)-1]
	}
	if !utf8.Valid(head) {
		return false
	}
	for _, b := range head {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return false
		}
	}
	return true
}
