package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// FingerprintContent streams a document's bytes through SHA-256 and
// returns the hex digest plus the byte count. The content is read
// exactly once and never buffered in memory, so arbitrarily large
// documents fingerprint in constant space.
//
// Any failure to open or read the content maps to
// domain.ErrUnreadableInput; unreadable sources are never retried.
func FingerprintContent(open driven.ContentOpener) (domain.ContentHash, int64, error) {
	rc, err := open()
	if err != nil {
		return "", 0, fmt.Errorf("%w: opening content: %v", domain.ErrUnreadableInput, err)
	}
	defer rc.Close()

	h := sha256.New()
	n, err := io.Copy(h, rc)
	if err != nil {
		return "", 0, fmt.Errorf("%w: reading content: %v", domain.ErrUnreadableInput, err)
	}

	return domain.ContentHash(hex.EncodeToString(h.Sum(nil))), n, nil
}
