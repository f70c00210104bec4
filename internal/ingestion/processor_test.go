package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProcessor() *Processor {
	return &Processor{chunkSize: 100, chunkOverlap: 20}
}

func TestChunkTextOffsetsAreExact(t *testing.T) {
	p := testProcessor()
	text := strings.TrimSpace(strings.Repeat("alpha beta gamma delta epsilon ", 20))

	spans := p.chunkText(text)

	require.Greater(t, len(spans), 1)
	for _, s := range spans {
		assert.Equal(t, text[s.start:s.end], s.text)
		assert.False(t, strings.HasPrefix(s.text, " "))
		assert.False(t, strings.HasSuffix(s.text, " "))
	}
}

func TestChunkTextShortInputIsSingleChunk(t *testing.T) {
	p := testProcessor()
	text := "just a few words"

	spans := p.chunkText(text)

	require.Len(t, spans, 1)
	assert.Equal(t, text, spans[0].text)
	assert.Equal(t, 0, spans[0].start)
	assert.Equal(t, len(text), spans[0].end)
}

func TestChunkTextEmptyInput(t *testing.T) {
	p := testProcessor()

	assert.Empty(t, p.chunkText(""))
	assert.Empty(t, p.chunkText("   \n\t  "))
}

func TestChunkTextOverlapsConsecutiveChunks(t *testing.T) {
	p := testProcessor()
	text := strings.TrimSpace(strings.Repeat("word ", 100))

	spans := p.chunkText(text)

	require.Greater(t, len(spans), 1)
	for i := 1; i < len(spans); i++ {
		assert.Less(t, spans[i].start, spans[i-1].end,
			"chunk %d should overlap its predecessor", i)
	}
}

func TestChunkTextCoversWholeText(t *testing.T) {
	p := testProcessor()
	text := strings.TrimSpace(strings.Repeat("lorem ipsum dolor sit amet ", 30))

	spans := p.chunkText(text)

	require.NotEmpty(t, spans)
	assert.Equal(t, 0, spans[0].start)
	assert.Equal(t, len(text), spans[len(spans)-1].end)
}

func TestSplitWordsPositions(t *testing.T) {
	words := splitWords("  one\ttwo\nthree ")

	require.Len(t, words, 3)
	assert.Equal(t, "one", words[0].text)
	assert.Equal(t, 2, words[0].start)
	assert.Equal(t, "two", words[1].text)
	assert.Equal(t, "three", words[2].text)
}

func TestFindHeadings(t *testing.T) {
	text := "# Title\nintro text\n## Methods\nbody\n### Detail\nmore\n#### Too Deep\nignored"

	headings := findHeadings(text)

	require.Len(t, headings, 3)
	assert.Equal(t, "Title", headings[0].title)
	assert.Equal(t, "Methods", headings[1].title)
	assert.Equal(t, "Detail", headings[2].title)
}

func TestSectionTitleAt(t *testing.T) {
	text := "# Title\nintro\n## Methods\nbody text here\n## Results\nfindings"
	headings := findHeadings(text)

	assert.Equal(t, "Title", sectionTitleAt(headings, strings.Index(text, "intro")))
	assert.Equal(t, "Methods", sectionTitleAt(headings, strings.Index(text, "body")))
	assert.Equal(t, "Results", sectionTitleAt(headings, strings.Index(text, "findings")))
	assert.Equal(t, "", sectionTitleAt(nil, 0))
}

func TestCleanHTMLStripsChrome(t *testing.T) {
	p := testProcessor()
	html := `<html><head><title>Page</title><style>body{}</style></head>
<body><nav>menu</nav><script>var x;</script>
<p>Real   content
here.</p><footer>copyright</footer></body></html>`

	text := p.cleanHTML(html)

	assert.Equal(t, "Real content here.", text)
}

func TestExtractTitle(t *testing.T) {
	p := testProcessor()

	assert.Equal(t, "Page Title", p.extractTitle("<html><head><title>Page Title</title></head><body></body></html>"))
	assert.Equal(t, "Heading", p.extractTitle("<html><body><h1>Heading</h1></body></html>"))
	assert.Equal(t, "Untitled", p.extractTitle("<html><body><p>no title</p></body></html>"))
}
