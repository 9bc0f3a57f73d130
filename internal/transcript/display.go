package transcript

import "strings"

// String renders the finalized utterances followed by the live candidate.
func (d Display) String() string {
	parts := make([]string, 0, len(d.FinalizedLog)+1)
	for _, s := range d.FinalizedLog {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if live := strings.TrimSpace(d.LiveText); live != "" {
		parts = append(parts, live)
	}
	return strings.Join(parts, " ")
}

// Empty reports whether nothing has been transcribed.
func (d Display) Empty() bool {
	return d.LiveText == "" && len(d.FinalizedLog) == 0
}
