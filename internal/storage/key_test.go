package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Isolation(t *testing.T) {
	regular, err := DeriveKey(5, false, "")
	require.NoError(t, err)
	viaX, err := DeriveKey(5, true, "X")
	require.NoError(t, err)
	viaY, err := DeriveKey(5, true, "Y")
	require.NoError(t, err)

	assert.NotEqual(t, regular, viaX)
	assert.NotEqual(t, regular, viaY)
	assert.NotEqual(t, viaX, viaY)

	assert.NotEqual(t, regular.String(), viaX.String())
	assert.NotEqual(t, viaX.String(), viaY.String())
}

func TestDeriveKey_IgnoresConnectionForRegular(t *testing.T) {
	a, err := DeriveKey(42, false, "")
	require.NoError(t, err)
	b, err := DeriveKey(42, false, "conn")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.False(t, a.IsBusiness())
	assert.Empty(t, b.ConnectionID())
}

func TestDeriveKey_BusinessWithoutConnection(t *testing.T) {
	_, err := DeriveKey(42, true, "")
	assert.ErrorIs(t, err, ErrMissingConnectionID)
}

func TestConversationKey_String(t *testing.T) {
	assert.Equal(t, "12345", RegularKey(12345).String())
	assert.Equal(t, "-100200", RegularKey(-100200).String())
	assert.Equal(t, "business_test_connection_12345", BusinessKey("test_connection", 12345).String())
}

func TestParseKey_RoundTrip(t *testing.T) {
	keys := []ConversationKey{
		RegularKey(0),
		RegularKey(987654321),
		RegularKey(-1001234567890),
		BusinessKey("conn1", 100),
		BusinessKey("with_under_scores", 7),
		BusinessKey("neg", -55),
	}

	for _, k := range keys {
		t.Run(k.String(), func(t *testing.T) {
			parsed, err := ParseKey(k.String())
			require.NoError(t, err)
			assert.Equal(t, k, parsed)
		})
	}
}

func TestParseKey_Invalid(t *testing.T) {
	for _, s := range []string{"", "abc", "business_", "business_conn", "business__12", "business_conn_x"} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseKey(s)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}
