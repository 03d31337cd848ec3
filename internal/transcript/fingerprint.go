package transcript

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// Fingerprint derives a short change-detection digest from the ordered role/text
// pairs of a conversation. HTML, indices and timestamps do not contribute, so a
// re-render of identical text keeps the same fingerprint.
//
// chatID is not folded into the digest: fingerprints are stored keyed by chat id,
// which keeps them comparable with content-only fingerprints written elsewhere.
func Fingerprint(chatID string, msgs []Message) string {
	return hashString(canonicalString(msgs))
}

func canonicalString(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(m.Role))
		sb.WriteByte(':')
		sb.WriteString(m.Text)
	}
	return sb.String()
}

// hashString is the 31-multiplier polynomial hash over UTF-16 code units with
// signed 32-bit wraparound, rendered as the base-36 absolute value.
func hashString(s string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
