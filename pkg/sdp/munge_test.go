package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answerWithSetup(role string) string {
	lines := []string{
		"v=0",
		"o=- 3948172 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"a=group:BUNDLE 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=setup:" + role,
		"a=mid:0",
		"a=ice-ufrag:aWQz",
		"a=ice-pwd:aWQzaWQzaWQzaWQzaWQzaWQz",
		"a=rtpmap:111 opus/48000/2",
		"a=sendrecv",
		"",
	}
	return strings.Join(lines, "\r\n")
}

func TestForceActiveSetupRewritesActpass(t *testing.T) {
	out, err := ForceActiveSetup(answerWithSetup("actpass"))
	require.NoError(t, err)

	assert.Contains(t, out, "a=setup:active")
	assert.NotContains(t, out, "actpass")
}

func TestForceActiveSetupRewritesPassive(t *testing.T) {
	out, err := ForceActiveSetup(answerWithSetup("passive"))
	require.NoError(t, err)

	assert.Contains(t, out, "a=setup:active")
	assert.NotContains(t, out, "passive")
}

func TestForceActiveSetupIdempotent(t *testing.T) {
	once, err := ForceActiveSetup(answerWithSetup("actpass"))
	require.NoError(t, err)
	twice, err := ForceActiveSetup(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestForceActiveSetupPreservesMedia(t *testing.T) {
	out, err := ForceActiveSetup(answerWithSetup("actpass"))
	require.NoError(t, err)

	assert.Contains(t, out, "m=audio 9 UDP/TLS/RTP/SAVPF 111")
	assert.Contains(t, out, "a=rtpmap:111 opus/48000/2")
	assert.Contains(t, out, "a=mid:0")
}

func TestForceActiveSetupRejectsGarbage(t *testing.T) {
	_, err := ForceActiveSetup("not an sdp")
	assert.Error(t, err)
}
