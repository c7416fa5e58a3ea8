package version

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFprintVersion(t *testing.T) {
	defer func(saved string) { revision = saved }(revision)

	var buf bytes.Buffer
	revision = ""
	FprintVersion(&buf)
	fields := strings.Fields(buf.String())
	assert.Len(t, fields, 3)
	assert.Equal(t, []string{Package(), Version()}, fields[1:])

	buf.Reset()
	revision = "abc123"
	FprintVersion(&buf)
	assert.True(t, strings.HasSuffix(buf.String(), " abc123\n"))
}
