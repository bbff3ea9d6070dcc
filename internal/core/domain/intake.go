package domain

import (
	"io"
	"time"
)

// IntakeEvent is a unit of raw input handed to the pipeline by a channel
// adapter. The content is addressed by an Open callback rather than a
// one-shot reader: fingerprinting streams the bytes once, and extraction
// opens its own reader later, so the pipeline never has to buffer a
// document twice.
type IntakeEvent struct {
	// SourceChannel identifies the delivering channel.
	SourceChannel SourceChannel

	// OriginalName is the filename as the channel saw it.
	OriginalName string

	// SizeBytes is the content length, if the channel knows it.
	SizeBytes int64

	// ReceivedAt is when the channel picked the document up.
	ReceivedAt time.Time

	// ChannelMetadata carries channel-specific context (sender,
	// subject, source directory, remote id).
	ChannelMetadata map[string]string

	// Open returns a fresh reader over the content. It is called at
	// least twice per event (fingerprint, extraction) and must return
	// an independent reader each time.
	Open func() (io.ReadCloser, error)
}

// Provenance derives the provenance record this event contributes to a
// Document's history.
func (e *IntakeEvent) Provenance() Provenance {
	return Provenance{
		Channel:      e.SourceChannel,
		OriginalName: e.OriginalName,
		ReceivedAt:   e.ReceivedAt,
		Metadata:     e.ChannelMetadata,
	}
}
