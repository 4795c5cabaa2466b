package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeripheralState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, "PeripheralState(9)", PeripheralState(9).String())
}

func TestParsePeripheralState(t *testing.T) {
	for _, s := range []PeripheralState{StateDisconnected, StateConnecting, StateConnected, StateDisconnecting} {
		parsed, err := ParsePeripheralState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	parsed, err := ParsePeripheralState(" Connected ")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, parsed)

	_, err = ParsePeripheralState("bonded")
	assert.Error(t, err)
}
