package voker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequestId_VersionAndVariant(t *testing.T) {
	id, err := generateRequestId()
	require.NoError(t, err)

	// version nibble (high nibble of byte 6) must be 4
	assert.Equal(t, byte(0x4), id[6]>>4)
	// variant bits (top two bits of byte 8) must be 10
	assert.Equal(t, byte(0x2), id[8]>>6)
}

func TestRequestId_RoundTrip(t *testing.T) {
	id, err := generateRequestId()
	require.NoError(t, err)

	var buf [36]byte
	id.ToASCIILower(&buf)

	parsed, ok := parseRequestId(string(buf[:]))
	require.True(t, ok)
	assert.Equal(t, id, parsed)
}

func TestRequestId_ToASCIILower_KnownValue(t *testing.T) {
	id, ok := parseRequestId("8476a536-e9f4-11e8-9739-2dfe598c3fcd")
	require.True(t, ok)

	var buf [36]byte
	id.ToASCIILower(&buf)
	assert.Equal(t, "8476a536-e9f4-11e8-9739-2dfe598c3fcd", string(buf[:]))

	id.ToASCIIUpper(&buf)
	assert.Equal(t, "8476A536-E9F4-11E8-9739-2DFE598C3FCD", string(buf[:]))
}

func TestParseRequestId_RejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"8476a536-e9f4-11e8-9739-2dfe598c3fc",   // too short
		"8476a536-e9f4-11e8-9739-2dfe598c3fcdd", // too long
		"8476a536xe9f4-11e8-9739-2dfe598c3fcd",  // dash in wrong place
		"8476a536-e9f4-11e8-9739-2dfe598c3fcg",  // non-hex byte
		"8476a536_e9f4_11e8_9739_2dfe598c3fcd",  // wrong separator throughout
	}

	for _, c := range cases {
		_, ok := parseRequestId(c)
		assert.Falsef(t, ok, "expected %q to be rejected", c)
	}
}

func TestRequestId_Equality(t *testing.T) {
	a, _ := parseRequestId("8476a536-e9f4-11e8-9739-2dfe598c3fcd")
	b, _ := parseRequestId("8476a536-e9f4-11e8-9739-2dfe598c3fcd")
	c, _ := parseRequestId("00000000-0000-0000-0000-000000000000")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRequestId_IsZero(t *testing.T) {
	var z RequestId
	assert.True(t, z.IsZero())

	id, _ := parseRequestId("8476a536-e9f4-11e8-9739-2dfe598c3fcd")
	assert.False(t, id.IsZero())
}

func TestRequestId_StringMatchesAppend(t *testing.T) {
	id, err := generateRequestId()
	require.NoError(t, err)

	var buf [36]byte
	id.ToASCIILower(&buf)
	assert.Equal(t, string(buf[:]), id.String())
}
