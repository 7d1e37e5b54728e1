package chat

// StreamDelta is one additive update folded into the streaming placeholder.
//
// Merge semantics: text-like fields are concatenated, citations are unioned
// by URI, image lists are replaced wholesale (latest wins), and usage is
// replaced wholesale.
type StreamDelta struct {
	Text           string
	LongText       string
	Thoughts       string
	ExecutableCode string
	CodeOutput     string

	Citations []Citation

	Images     []GeneratedImage
	CodeImages []GeneratedImage

	Usage *Usage
}

// Empty reports whether applying the delta would change nothing.
func (d StreamDelta) Empty() bool {
	return d.Text == "" && d.LongText == "" && d.Thoughts == "" &&
		d.ExecutableCode == "" && d.CodeOutput == "" &&
		len(d.Citations) == 0 && d.Images == nil && d.CodeImages == nil &&
		d.Usage == nil
}

// applyTo merges the delta into a message in place.
func (d StreamDelta) applyTo(m *Message) {
	m.Text += d.Text
	m.LongText += d.LongText
	m.Thoughts += d.Thoughts
	m.ExecutableCode += d.ExecutableCode
	m.CodeOutput += d.CodeOutput

	if len(d.Citations) > 0 {
		m.Citations = mergeCitations(m.Citations, d.Citations)
	}
	if d.Images != nil {
		m.Images = d.Images
	}
	if d.CodeImages != nil {
		m.CodeImages = d.CodeImages
	}
	if d.Usage != nil {
		u := *d.Usage
		m.Usage = &u
	}
}

// mergeCitations unions two citation lists, keeping the first entry seen for
// each URI and preserving insertion order.
func mergeCitations(existing []Citation, incoming []Citation) []Citation {
	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[c.URI] = struct{}{}
	}
	out := existing
	for _, c := range incoming {
		if c.URI == "" {
			continue
		}
		if _, ok := seen[c.URI]; ok {
			continue
		}
		seen[c.URI] = struct{}{}
		out = append(out, c)
	}
	return out
}
