package image

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// Rows follow tesseract's TSV layout: level page block par line word
// left top width height conf text.
const tsvSample = `level	page_num	block_num	par_num	line_num	word_num	left	top	width	height	conf	text
1	1	0	0	0	0	0	0	640	480	-1
5	1	1	1	1	1	10	10	50	20	96	Incident
5	1	1	1	1	2	70	10	60	20	88	report
5	1	1	1	2	1	10	40	80	20	92	Platform
5	1	1	1	2	2	100	40	20	20	90	2
`

func TestParseTSV(t *testing.T) {
	t.Run("reassembles words into lines", func(t *testing.T) {
		text, conf := parseTSV(tsvSample)
		assert.Equal(t, "Incident report\nPlatform 2", text)
		assert.InDelta(t, 0.915, conf, 1e-3)
	})

	t.Run("empty output yields zero confidence", func(t *testing.T) {
		text, conf := parseTSV("level\tpage_num\n")
		assert.Empty(t, text)
		assert.Zero(t, conf)
	})
}

func TestExtractor_Check(t *testing.T) {
	t.Run("missing binary reports unavailable", func(t *testing.T) {
		e := New("definitely-not-a-real-ocr-binary", "eng+mal")
		err := e.Check(context.Background())
		assert.ErrorIs(t, err, domain.ErrExtractorUnavailable)
	})
}

func TestNew(t *testing.T) {
	t.Run("defaults fill empty arguments", func(t *testing.T) {
		e := New("", "")
		require.Equal(t, "tesseract", e.command)
		require.Equal(t, "eng", e.languages)
	})
}
