package postprocess

import "strings"

const (
	refOpen  = "<|ref|>"
	refClose = "<|/ref|>"
	detOpen  = "<|det|>"
	detClose = "<|/det|>"

	// ImageLabel marks an annotation that refers to an embedded figure.
	ImageLabel = "image"
)

// Annotation is one complete ref/det pair found in generated text.
// Start and End are byte offsets of Full within the scanned text.
type Annotation struct {
	Full    string
	Label   string
	Payload string
	Start   int
	End     int
}

// IsImage reports whether the annotation labels an image region.
func (a Annotation) IsImage() bool { return a.Label == ImageLabel }

// Annotations groups the matches of one scan. All preserves encounter order;
// Images and Others partition it.
type Annotations struct {
	All    []Annotation
	Images []Annotation
	Others []Annotation
}

// ExtractAnnotations scans text once, left to right, for
// <|ref|>LABEL<|/ref|><|det|>PAYLOAD<|/det|> spans. Label and payload end at
// the first matching closing tag and may contain newlines. A ref that is not
// immediately followed by a det, or a tag that is never closed, is skipped and
// left in the text.
func ExtractAnnotations(text string) Annotations {
	var out Annotations
	pos := 0
	for pos < len(text) {
		i := strings.Index(text[pos:], refOpen)
		if i < 0 {
			break
		}
		start := pos + i
		labelStart := start + len(refOpen)
		j := strings.Index(text[labelStart:], refClose)
		if j < 0 {
			break
		}
		labelEnd := labelStart + j
		detStart := labelEnd + len(refClose)
		if !strings.HasPrefix(text[detStart:], detOpen) {
			pos = labelStart
			continue
		}
		payloadStart := detStart + len(detOpen)
		k := strings.Index(text[payloadStart:], detClose)
		if k < 0 {
			break
		}
		payloadEnd := payloadStart + k
		end := payloadEnd + len(detClose)

		a := Annotation{
			Full:    text[start:end],
			Label:   text[labelStart:labelEnd],
			Payload: text[payloadStart:payloadEnd],
			Start:   start,
			End:     end,
		}
		out.All = append(out.All, a)
		if a.IsImage() {
			out.Images = append(out.Images, a)
		} else {
			out.Others = append(out.Others, a)
		}
		pos = end
	}
	return out
}
