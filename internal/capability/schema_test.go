package capability

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedClipsByRune(t *testing.T) {
	long := strings.Repeat("é", 100)
	out := Args{"note": long, "n": 3, "short": "ok"}.Sanitized()
	clipped := out["note"].(string)
	assert.True(t, utf8.ValidString(clipped))
	assert.Equal(t, strings.Repeat("é", 80)+"…", clipped)
	assert.Equal(t, "ok", out["short"])
	assert.Equal(t, 3, out["n"])
}
