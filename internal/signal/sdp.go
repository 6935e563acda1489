package signal

import (
	"fmt"
	"regexp"
	"strings"
)

var opusRtpmapRe = regexp.MustCompile(`a=rtpmap:(\d+) opus/48000/2`)

// ForceOpusMono rewrites an SDP so the Opus media section negotiates
// mono: the fmtp line for the opus/48000/2 payload type gains
// stereo=0;sprop-stereo=0, or is created after the rtpmap if absent.
// Applying the transform twice yields the same SDP as applying it once.
func ForceOpusMono(sdp string) string {
	m := opusRtpmapRe.FindStringSubmatch(sdp)
	if m == nil {
		return sdp
	}
	pt := m[1]

	fmtpRe := regexp.MustCompile(`a=fmtp:` + pt + ` ([^\r\n]+)`)
	if loc := fmtpRe.FindStringSubmatchIndex(sdp); loc != nil {
		params := sdp[loc[2]:loc[3]]
		if strings.Contains(params, "stereo=0") {
			return sdp
		}
		return sdp[:loc[3]] + ";stereo=0;sprop-stereo=0" + sdp[loc[3]:]
	}

	rtpmapLine := fmt.Sprintf("a=rtpmap:%s opus/48000/2", pt)
	fmtpLine := fmt.Sprintf("a=fmtp:%s stereo=0;sprop-stereo=0", pt)
	return strings.Replace(sdp, rtpmapLine, rtpmapLine+"\r\n"+fmtpLine, 1)
}
