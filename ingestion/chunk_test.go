package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextOverlappingWindows(t *testing.T) {
	text := strings.Repeat("a", 800) + strings.Repeat("b", 800)
	segments := SplitText(text, 800, 150)

	require.NotEmpty(t, segments)
	// First window is all a's; second starts 650 in, so it carries the
	// 150-char overlap from the first.
	assert.Equal(t, strings.Repeat("a", 800), segments[0])
	assert.True(t, strings.HasPrefix(segments[1], strings.Repeat("a", 150)))
	// Full coverage: last segment ends with the final b's.
	assert.True(t, strings.HasSuffix(segments[len(segments)-1], "b"))
}

func TestSplitTextDropsEmptySegments(t *testing.T) {
	text := strings.Repeat("x", 100) + strings.Repeat(" ", 2000)
	segments := SplitText(text, 800, 150)
	for _, s := range segments {
		assert.NotEmpty(t, strings.TrimSpace(s))
	}
}

func TestSplitTextShortInput(t *testing.T) {
	segments := SplitText("hola", 800, 150)
	require.Len(t, segments, 1)
	assert.Equal(t, "hola", segments[0])
}

func TestSplitTextEmptyInput(t *testing.T) {
	assert.Empty(t, SplitText("", 800, 150))
	assert.Empty(t, SplitText("   \n\t  ", 800, 150))
}

func TestParseExternalKeyRoundTrip(t *testing.T) {
	id, step, rev, err := parseExternalKey("b3b2c6a0-8a8f-4f9e-9a53-1c2d3e4f5a6b:chunk:rev3")
	require.NoError(t, err)
	assert.Equal(t, "b3b2c6a0-8a8f-4f9e-9a53-1c2d3e4f5a6b", id.String())
	assert.Equal(t, "chunk", step)
	assert.Equal(t, 3, rev)
}

func TestParseExternalKeyMalformed(t *testing.T) {
	for _, key := range []string{"", "abc", "x:y", "not-a-uuid:chunk:rev1", "b3b2c6a0-8a8f-4f9e-9a53-1c2d3e4f5a6b:chunk:three"} {
		_, _, _, err := parseExternalKey(key)
		assert.Error(t, err, key)
	}
}

func TestNormalizeMime(t *testing.T) {
	assert.Equal(t, "text/plain", normalizeMime("text/plain; charset=utf-8"))
	assert.Equal(t, "application/pdf", normalizeMime(" Application/PDF "))
}
