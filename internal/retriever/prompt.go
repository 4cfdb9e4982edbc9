package retriever

import (
	"fmt"
	"strings"

	"github.com/spigell/resumekit-rag/internal/utils"
)

// DefaultExcerptRunes caps each excerpt rendered into a prompt.
const DefaultExcerptRunes = 1000

var promptRule = strings.Repeat("=", 50)

// FormatPromptContext renders results as the guidance block appended to the
// tailoring system prompt. Each excerpt is cut to maxRunes with an ellipsis;
// a non-positive maxRunes uses DefaultExcerptRunes. No results render as "".
func FormatPromptContext(results []Result, maxRunes int) string {
	if len(results) == 0 {
		return ""
	}
	if maxRunes <= 0 {
		maxRunes = DefaultExcerptRunes
	}

	var b strings.Builder
	b.WriteString("MARKET-SPECIFIC BEST PRACTICES:\n")
	b.WriteString(promptRule)
	b.WriteString("\n")
	for i, res := range results {
		fmt.Fprintf(&b, "\n[Best Practice %d]\n%s\n", i+1, utils.TruncateRunes(res.Chunk.Text, maxRunes, "..."))
	}
	b.WriteString(promptRule)
	b.WriteString("\n")

	return b.String()
}
