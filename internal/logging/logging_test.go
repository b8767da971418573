package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContextPrefersAttachedLogger(t *testing.T) {
	var buf bytes.Buffer
	attached := newLogger(&buf, "debug", "json")
	base := Discard()

	ctx := ContextWithLogger(context.Background(), attached)
	FromContext(ctx, base).Info("hello", "k", "v")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
