package topicname

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"hello",
		"café",      // composed é
		"café", // decomposed e + combining acute accent
		"日本語",
	}

	for _, topic := range cases {
		encoded := Encode(topic)
		decoded, ok := Decode(encoded)
		assert.True(t, ok, "decode of %q should succeed", encoded)
		assert.Equal(t, topic, decoded)
	}
}

func TestComposedAndDecomposedFormsAreDistinctTopics(t *testing.T) {
	composed := "café"
	decomposed := "café"

	assert.NotEqual(t, composed, decomposed, "test fixture sanity check")
	assert.NotEqual(t, Encode(composed), Encode(decomposed))
}

func TestEncodeIsUppercaseHex(t *testing.T) {
	assert.Equal(t, "68656C6C6F", Encode("hello"))
}

func TestDecodeRejectsOddLength(t *testing.T) {
	_, ok := Decode("ABC")
	assert.False(t, ok)
}

func TestDecodeRejectsNonHex(t *testing.T) {
	_, ok := Decode("not-hex!!")
	assert.False(t, ok)
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	// 0xFF is never valid as a standalone UTF-8 byte.
	_, ok := Decode("FF")
	assert.False(t, ok)
}

func TestDecodeRejectsTooShort(t *testing.T) {
	_, ok := Decode("A")
	assert.False(t, ok)
}
