package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_TextWithinOneStepIsSingleChunk(t *testing.T) {
	// Given: text no longer than one step (window 1000, overlap 150)
	text := strings.Repeat("a", 850)

	// When: splitting with the default window
	chunks := Split(text, 1000, 150)

	// Then: exactly one chunk equal to the text
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplit_EmitsWindowForEveryStartInsideText(t *testing.T) {
	cases := []struct {
		textLen int
		want    int
	}{
		{850, 1},
		{851, 2},
		{900, 2},
		{1000, 2},
		{1700, 2},
		{1800, 3},
		{3000, 4},
	}
	for _, tc := range cases {
		text := strings.Repeat("a", tc.textLen)

		chunks := Split(text, 1000, 150)

		assert.Len(t, chunks, tc.want, "text length %d", tc.textLen)
	}
}

func TestSplit_TailWindowInsideOverlap(t *testing.T) {
	// Given: 1000 characters, exactly one full window
	text := strings.Repeat("a", 850) + strings.Repeat("b", 150)

	chunks := Split(text, 1000, 150)

	// Then: the full window plus a tail window starting at 850
	require.Len(t, chunks, 2)
	assert.Equal(t, text, chunks[0])
	assert.Equal(t, strings.Repeat("b", 150), chunks[1])
}

func TestSplit_BlankTextYieldsNothing(t *testing.T) {
	assert.Nil(t, Split("", 10, 2))
	assert.Nil(t, Split("   \n\t ", 10, 2))
}

func TestSplit_WindowPositions(t *testing.T) {
	// Given: 25 characters, window 10, overlap 3 (step 7)
	text := "abcdefghijklmnopqrstuvwxy"

	chunks := Split(text, 10, 3)

	// Then: windows start at 0, 7, 14 and 21
	require.Len(t, chunks, 4)
	assert.Equal(t, "abcdefghij", chunks[0])
	assert.Equal(t, "hijklmnopq", chunks[1])
	assert.Equal(t, "opqrstuvwx", chunks[2])
	assert.Equal(t, "vwxy", chunks[3])
}

func TestSplit_LengthAndOverlapProperties(t *testing.T) {
	cases := []struct {
		textLen, window, overlap int
	}{
		{3000, 1000, 150},
		{1001, 1000, 150},
		{57, 10, 3},
		{100, 7, 0},
		{250, 50, 49},
	}

	for _, tc := range cases {
		text := make([]rune, tc.textLen)
		for i := range text {
			text[i] = rune('a' + i%26)
		}
		chunks := Split(string(text), tc.window, tc.overlap)
		step := tc.window - tc.overlap
		require.Len(t, chunks, (tc.textLen+step-1)/step)

		for i, c := range chunks {
			// chunk i is the window starting at i*step
			start := i * step
			end := min(start+tc.window, tc.textLen)
			assert.Equal(t, string(text[start:end]), c, "chunk %d", i)
			assert.LessOrEqual(t, len([]rune(c)), tc.window)
		}

		// the last chunk ends the text
		last := chunks[len(chunks)-1]
		assert.True(t, strings.HasSuffix(string(text), last))
	}
}

func TestSplit_OverlapNotSmallerThanWindowDegradesToStepOne(t *testing.T) {
	chunks := Split("abcde", 3, 5)

	assert.Equal(t, []string{"abc", "bcd", "cde", "de", "e"}, chunks)
}

func TestSplit_CountsRunesNotBytes(t *testing.T) {
	// Given: multi-byte text
	text := strings.Repeat("é", 25)

	chunks := Split(text, 10, 2)

	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
}

func TestBuild_AssignsDeterministicIDs(t *testing.T) {
	doc := Document{ID: "doc-1"}
	roles := []string{"employee", "hr"}

	chunks := Build(doc, strings.Repeat("x", 25), roles, 10, 0)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, ID("doc-1", i), c.ID)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, roles, c.Roles)
	}
	assert.Equal(t, "doc-1_2", chunks[2].ID)
	assert.Equal(t, "doc-1_full", FullDocumentID("doc-1"))
}

func TestBuild_BlankText(t *testing.T) {
	assert.Nil(t, Build(Document{ID: "d"}, "  ", nil, 10, 2))
}

func TestDocumentIDOf(t *testing.T) {
	assert.Equal(t, "doc-1", DocumentIDOf(ID("doc-1", 12)))
	assert.Equal(t, "doc-1", DocumentIDOf(FullDocumentID("doc-1")))
	assert.True(t, IsFullDocumentID(FullDocumentID("doc-1")))
	assert.False(t, IsFullDocumentID(ID("doc-1", 0)))
}

func TestJoin_InvertsSplit(t *testing.T) {
	cases := []struct {
		text            string
		window, overlap int
	}{
		{"abcdefghijklmnopqrstuvwxy", 10, 3},
		{strings.Repeat("héllo wörld ", 40), 50, 10},
		{"short", 1000, 150},
		{"abcdefghij", 4, 9},
		{"abcdefghij", 3, 0},
		{strings.Repeat("a", 850) + strings.Repeat("b", 150), 1000, 150},
		{strings.Repeat("xyz", 600), 1000, 150},
		{"abcde", 3, 5},
	}
	for _, tc := range cases {
		windows := Split(tc.text, tc.window, tc.overlap)
		assert.Equal(t, tc.text, Join(windows, tc.window, tc.overlap))
	}
	assert.Equal(t, "", Join(nil, 10, 2))
}
