package simplysats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDeepLinkConnect(t *testing.T) {
	action, err := ParseDeepLink("simplysats://connect")
	require.NoError(t, err)
	require.Equal(t, ActionConnect, action.Kind)
}

func TestParseDeepLinkAuth(t *testing.T) {
	action, err := ParseDeepLink("simplysats://auth")
	require.NoError(t, err)
	require.Equal(t, ActionAuth, action.Kind)
}

func TestParseDeepLinkSign(t *testing.T) {
	action, err := ParseDeepLink("simplysats://sign?data=68656c6c6f" +
		"&protocol=notes&keyId=7")
	require.NoError(t, err)
	require.Equal(t, ActionSign, action.Kind)
	require.Equal(t, "68656c6c6f", action.Data)
	require.Equal(t, "notes", action.Protocol)
	require.Equal(t, "7", action.KeyID)

	_, err = ParseDeepLink("simplysats://sign?protocol=notes")
	require.ErrorIs(t, err, ErrUnknownDeepLink)
}

func TestParseDeepLinkPayment(t *testing.T) {
	for _, host := range []string{"action", "tx"} {
		action, err := ParseDeepLink("simplysats://" + host +
			"?description=tip&outputs=1Addr:5000,1Other:100")
		require.NoError(t, err)
		require.Equal(t, ActionCreate, action.Kind)
		require.Equal(t, "tip", action.Description)
		require.Len(t, action.Outputs, 2)
		require.Equal(t, "1Addr", action.Outputs[0].Address)
		require.Equal(t, int64(5000), action.Outputs[0].Satoshis)
	}

	_, err := ParseDeepLink("simplysats://tx?outputs=")
	require.ErrorIs(t, err, ErrUnknownDeepLink)

	_, err = ParseDeepLink("simplysats://tx?outputs=1Addr:notanumber")
	require.ErrorIs(t, err, ErrUnknownDeepLink)

	_, err = ParseDeepLink("simplysats://tx?outputs=1Addr:-5")
	require.ErrorIs(t, err, ErrUnknownDeepLink)
}

func TestParseDeepLinkRejectsForeign(t *testing.T) {
	_, err := ParseDeepLink("https://example.com/connect")
	require.ErrorIs(t, err, ErrUnknownDeepLink)

	_, err = ParseDeepLink("simplysats://format")
	require.ErrorIs(t, err, ErrUnknownDeepLink)
}
