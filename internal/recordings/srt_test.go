package recordings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestampBothSeparators(t *testing.T) {
	comma, err := ParseTimestamp("00:01:02,345")
	require.NoError(t, err)
	dot, err := ParseTimestamp("00:01:02.345")
	require.NoError(t, err)
	assert.Equal(t, comma, dot)
	assert.Equal(t, "00:01:02,345", comma.String())
}

func TestParseTimestampRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "1:2", "00:01:02", "00:61:00,000", "aa:bb:cc,ddd", "00:00:00,1000"} {
		_, err := ParseTimestamp(in)
		assert.Error(t, err, in)
	}
}

func TestParseSRT(t *testing.T) {
	doc := strings.Join([]string{
		"1",
		"00:00:00,000 --> 00:00:02,500",
		"first line",
		"second line",
		"",
		"2",
		"00:00:03.000 --> 00:00:05.250",
		"next cue",
		"",
	}, "\n")

	segs, err := ParseSRT(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, 1, segs[0].Index)
	assert.Equal(t, "first line\nsecond line", segs[0].Text)
	assert.Equal(t, "00:00:02,500", segs[0].End.String())

	assert.Equal(t, 2, segs[1].Index)
	assert.Equal(t, "00:00:03,000", segs[1].Start.String())
	assert.Equal(t, "next cue", segs[1].Text)
}

func TestParseSRTWindowsLineEndingsAndNoTrailingBlank(t *testing.T) {
	doc := "1\r\n00:00:00,000 --> 00:00:01,000\r\ntext\r\n"
	segs, err := ParseSRT(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "text", segs[0].Text)
}

func TestParseSRTRejectsBadCue(t *testing.T) {
	_, err := ParseSRT(strings.NewReader("one\n00:00:00,000 --> 00:00:01,000\nx\n"))
	assert.Error(t, err)

	_, err = ParseSRT(strings.NewReader("1\nnot a range\nx\n"))
	assert.Error(t, err)
}
