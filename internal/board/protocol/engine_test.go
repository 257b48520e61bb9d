package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gassmann-textboard/textboard/internal/board/store"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		line       string
		wantOpcode byte
		wantArg    string
		wantOK     bool
	}{
		{"L", 'L', "", true},
		{"L 5", 'L', "5", true},
		{"T hello", 'T', "hello", true},
		{"X", 'X', "", true},
		{"XY", 'X', "Y", true},
		{"", 0, "", false},
	}

	for _, tc := range cases {
		opcode, arg, ok := splitCommand(tc.line)
		assert.Equal(t, tc.wantOK, ok, "line %q", tc.line)
		if !tc.wantOK {
			continue
		}
		assert.Equal(t, tc.wantOpcode, opcode, "line %q", tc.line)
		assert.Equal(t, tc.wantArg, arg, "line %q", tc.line)
	}
}

func TestWindowLimit(t *testing.T) {
	messages := []store.Message{
		{Timestamp: 100},
		{Timestamp: 90},
		{Timestamp: 80},
		{Timestamp: 70},
	}

	assert.Equal(t, 4, windowLimit(messages, 0))
	assert.Equal(t, 4, windowLimit(messages, 70))
	assert.Equal(t, 3, windowLimit(messages, 71))
	assert.Equal(t, 1, windowLimit(messages, 100))
	assert.Equal(t, 0, windowLimit(messages, 101))
}
