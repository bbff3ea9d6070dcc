package text

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

func TestExtractor_Extract(t *testing.T) {
	ctx := context.Background()
	e := New()

	t.Run("passes content through", func(t *testing.T) {
		res, err := e.Extract(ctx, strings.NewReader("line one\nline two"))
		require.NoError(t, err)
		assert.Equal(t, "line one\nline two", res.Text)
		assert.Equal(t, "2", res.Metadata["lines"])
	})

	t.Run("repairs invalid utf-8", func(t *testing.T) {
		res, err := e.Extract(ctx, strings.NewReader("ok\xffstill ok"))
		require.NoError(t, err)
		assert.Contains(t, res.Text, "ok")
		assert.Contains(t, res.Text, "still ok")
		assert.NotContains(t, res.Text, "\xff")
	})
}

func TestExtractor_Type(t *testing.T) {
	assert.Equal(t, domain.TypeText, New().Type())
}
