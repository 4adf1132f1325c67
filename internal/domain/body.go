package domain

import "regexp"

// Tag markers: '#' followed by one or more characters that are not
// whitespace, another '#', or a bracket. A tag may start mid-word.
var tagPattern = regexp.MustCompile(`#[^\s#\[\]]+`)

// BodySegment is one span of body text. Tag segments get the
// type-and-pick-suggestion input treatment; plain segments are typed
// verbatim.
type BodySegment struct {
	Text  string
	IsTag bool
}

// TokenizeBody splits body text into ordered plain and tag segments.
// Concatenating the segment texts reproduces the input exactly.
func TokenizeBody(body string) []BodySegment {
	matches := tagPattern.FindAllStringIndex(body, -1)
	segments := make([]BodySegment, 0, len(matches)*2+1)

	last := 0
	for _, match := range matches {
		if match[0] > last {
			segments = append(segments, BodySegment{Text: body[last:match[0]]})
		}
		segments = append(segments, BodySegment{Text: body[match[0]:match[1]], IsTag: true})
		last = match[1]
	}
	if last < len(body) {
		segments = append(segments, BodySegment{Text: body[last:]})
	}
	return segments
}
