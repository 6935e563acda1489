package signal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerWithFmtp = "v=0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n"

const offerWithoutFmtp = "v=0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtcp-mux\r\n"

func TestForceOpusMonoAppendsToFmtp(t *testing.T) {
	out := ForceOpusMono(offerWithFmtp)
	assert.Contains(t, out, "a=fmtp:111 minptime=10;useinbandfec=1;stereo=0;sprop-stereo=0\r\n")
}

func TestForceOpusMonoCreatesFmtp(t *testing.T) {
	out := ForceOpusMono(offerWithoutFmtp)
	assert.Contains(t, out, "a=rtpmap:111 opus/48000/2\r\na=fmtp:111 stereo=0;sprop-stereo=0\r\n")
	// The line must land inside the audio section, before rtcp-mux.
	assert.Less(t, strings.Index(out, "a=fmtp:111"), strings.Index(out, "a=rtcp-mux"))
}

func TestForceOpusMonoIdempotent(t *testing.T) {
	once := ForceOpusMono(offerWithFmtp)
	twice := ForceOpusMono(once)
	require.Equal(t, once, twice)

	once = ForceOpusMono(offerWithoutFmtp)
	twice = ForceOpusMono(once)
	require.Equal(t, once, twice)
}

func TestForceOpusMonoNoOpus(t *testing.T) {
	sdp := "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 0\r\na=rtpmap:0 PCMU/8000\r\n"
	assert.Equal(t, sdp, ForceOpusMono(sdp))
}

func TestValidateCandidate(t *testing.T) {
	good := "candidate:842163049 1 udp 1677729535 203.0.113.7 41234 typ srflx raddr 0.0.0.0 rport 0"
	assert.NoError(t, ValidateCandidate(good))
	assert.NoError(t, ValidateCandidate("a="+good))

	cases := []string{
		"",
		"candidate:1 1 udp 1 10.0.0.1 9 typ", // only 7 tokens
		"candidate:1 1 udp 1 10.0.0.1 9 host typ",
		"1 1 udp 1 10.0.0.1 9 typ host", // no prefix
	}
	for _, c := range cases {
		assert.Error(t, ValidateCandidate(c), "candidate %q", c)
	}
}
