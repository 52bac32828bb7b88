package exerciser

import (
	"regexp"
	"strconv"
	"time"
)

// Placeholders understood by RenderPayload
const (
	PlaceholderValue     = "value"
	PlaceholderSender    = "sender"
	PlaceholderSeq       = "seq"
	PlaceholderTimestamp = "timestamp"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// PayloadData holds the values substituted into a payload template
type PayloadData struct {
	Value  int
	Sender string
	Seq    int
	Time   time.Time
}

// RenderPayload replaces ${value}, ${sender}, ${seq} and ${timestamp} in
// tmpl. Unknown placeholders are left as they are.
func RenderPayload(tmpl string, d PayloadData) []byte {
	// Fast path for the default template
	if tmpl == "${"+PlaceholderValue+"}" {
		return []byte(strconv.Itoa(d.Value))
	}

	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(placeholder string) string {
		switch placeholder[2 : len(placeholder)-1] {
		case PlaceholderValue:
			return strconv.Itoa(d.Value)
		case PlaceholderSender:
			return d.Sender
		case PlaceholderSeq:
			return strconv.Itoa(d.Seq)
		case PlaceholderTimestamp:
			return d.Time.UTC().Format(time.RFC3339Nano)
		default:
			return placeholder
		}
	})
	return []byte(out)
}
