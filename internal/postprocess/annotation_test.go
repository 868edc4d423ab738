package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ann(label, payload string) string {
	return refOpen + label + refClose + detOpen + payload + detClose
}

func TestExtractAnnotations_ClassifiesInOrder(t *testing.T) {
	text := "intro " + ann("image", "[[1,2,3,4]]") + " mid " + ann("title", "[[5,6,7,8]]") + " end " + ann("image", "[[9,9,9,9]]")
	got := ExtractAnnotations(text)
	require.Len(t, got.All, 3)
	require.Len(t, got.Images, 2)
	require.Len(t, got.Others, 1)
	assert.Equal(t, "image", got.All[0].Label)
	assert.Equal(t, "title", got.All[1].Label)
	assert.Equal(t, "[[1,2,3,4]]", got.Images[0].Payload)
	assert.Equal(t, "[[9,9,9,9]]", got.Images[1].Payload)
	assert.Equal(t, text[got.All[1].Start:got.All[1].End], got.All[1].Full)
}

func TestExtractAnnotations_NonGreedyAdjacent(t *testing.T) {
	text := ann("a", "1") + ann("b", "2")
	got := ExtractAnnotations(text)
	require.Len(t, got.All, 2)
	assert.Equal(t, "1", got.All[0].Payload)
	assert.Equal(t, "b", got.All[1].Label)
}

func TestExtractAnnotations_PayloadSpansNewlines(t *testing.T) {
	text := ann("table", "[[1,\n2,\n3]]")
	got := ExtractAnnotations(text)
	require.Len(t, got.All, 1)
	assert.Equal(t, "[[1,\n2,\n3]]", got.All[0].Payload)
}

func TestExtractAnnotations_ImageLabelIsExact(t *testing.T) {
	got := ExtractAnnotations(ann("images", "x") + ann("Image", "y") + ann("image_caption", "z"))
	assert.Len(t, got.Images, 0)
	assert.Len(t, got.Others, 3)
}

func TestExtractAnnotations_Malformed(t *testing.T) {
	cases := map[string]string{
		"unterminated det": refOpen + "a" + refClose + detOpen + "[[1]]",
		"unterminated ref": refOpen + "a",
		"det not adjacent": refOpen + "a" + refClose + " " + detOpen + "x" + detClose,
		"det without ref":  detOpen + "x" + detClose,
		"no tags":          "plain text",
		"empty":            "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, ExtractAnnotations(in).All)
		})
	}
}

func TestExtractAnnotations_SkipsBrokenRefThenMatches(t *testing.T) {
	text := refOpen + "x" + refClose + "gap " + ann("title", "p")
	got := ExtractAnnotations(text)
	require.Len(t, got.All, 1)
	assert.Equal(t, "title", got.All[0].Label)
	assert.Equal(t, "p", got.All[0].Payload)
}

func TestExtractAnnotations_EmptyLabelAndPayload(t *testing.T) {
	got := ExtractAnnotations(ann("", ""))
	require.Len(t, got.All, 1)
	assert.Equal(t, "", got.All[0].Label)
	assert.Len(t, got.Others, 1)
}
