package dialogue

import "regexp"

// Agents tag their claims inline: citation markers name a source
// category ("[Surface: Study X]", "[Academic: arXiv 2301.07041]"),
// while the bare "[SPECULATION]" marker flags unsupported inference.
var (
	citationMarkerRe    = regexp.MustCompile(`\[[A-Za-z][A-Za-z ]*:\s*[^\]]+\]`)
	speculationMarkerRe = regexp.MustCompile(`\[SPECULATION\]`)
)

// ScanMarkers extracts citation and speculation markers from an agent
// message. Markers are returned verbatim, one entry per occurrence, in
// message order.
func ScanMarkers(message string) (attributions, speculation []string) {
	for _, m := range citationMarkerRe.FindAllString(message, -1) {
		attributions = append(attributions, m)
	}
	for _, m := range speculationMarkerRe.FindAllString(message, -1) {
		speculation = append(speculation, m)
	}
	return attributions, speculation
}
