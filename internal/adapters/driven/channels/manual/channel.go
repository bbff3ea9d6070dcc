// Package manual implements the MANUAL intake channel: an operator drops
// files into an upload directory; each poll stages them out and emits an
// intake event per file. Staging keeps the upload directory clean and
// makes re-dropping the same filename safe.
package manual

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

var _ driven.Channel = (*Channel)(nil)

// Channel ingests files from an operator-facing upload directory.
type Channel struct {
	uploadDir  string
	stagingDir string
}

// New creates a manual channel. Files found in uploadDir are moved into
// stagingDir before they are emitted.
func New(uploadDir, stagingDir string) *Channel {
	return &Channel{uploadDir: uploadDir, stagingDir: stagingDir}
}

// Name implements driven.Channel.
func (c *Channel) Name() domain.SourceChannel {
	return domain.ChannelManual
}

// Check ensures both directories exist, creating them if needed.
func (c *Channel) Check(_ context.Context) error {
	if err := os.MkdirAll(c.uploadDir, 0700); err != nil {
		return fmt.Errorf("upload directory: %w", err)
	}
	if err := os.MkdirAll(c.stagingDir, 0700); err != nil {
		return fmt.Errorf("staging directory: %w", err)
	}
	return nil
}

// Poll stages every file currently in the upload directory and returns
// one event per staged file.
func (c *Channel) Poll(ctx context.Context) ([]domain.IntakeEvent, error) {
	if err := os.MkdirAll(c.stagingDir, 0700); err != nil {
		return nil, fmt.Errorf("staging directory: %w", err)
	}

	entries, err := os.ReadDir(c.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning upload directory: %w", err)
	}

	var events []domain.IntakeEvent
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		src := filepath.Join(c.uploadDir, entry.Name())
		staged := filepath.Join(c.stagingDir, uuid.NewString()+"-"+entry.Name())
		if err := stage(src, staged); err != nil {
			return nil, fmt.Errorf("staging %s: %w", entry.Name(), err)
		}

		info, err := os.Stat(staged)
		if err != nil {
			return nil, fmt.Errorf("staging %s: %w", entry.Name(), err)
		}

		path := staged
		events = append(events, domain.IntakeEvent{
			SourceChannel: domain.ChannelManual,
			OriginalName:  entry.Name(),
			SizeBytes:     info.Size(),
			ReceivedAt:    time.Now().UTC(),
			ChannelMetadata: map[string]string{
				"staged_path": path,
				"upload_dir":  c.uploadDir,
			},
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
	}
	return events, nil
}

// stage moves src to dst, falling back to copy-and-remove when a rename
// crosses filesystems.
func stage(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
