package sync

import (
	"regexp"
	"strings"
)

var emptyHTMLArtifacts = []*regexp.Regexp{
	regexp.MustCompile(`(?i)&nbsp;`),
	regexp.MustCompile(`(?i)<br\s*/?>`),
	regexp.MustCompile(`\s+`),
	regexp.MustCompile(`(?i)<p></p>`),
	regexp.MustCompile(`(?i)<div></div>`),
	regexp.MustCompile(`(?i)<span></span>`),
}

// IsDescriptionEmpty reports whether a description HTML carries no real
// content: empty, whitespace, or only artifacts like <br>, empty <p>/<div>
// blocks and non-breaking spaces. Local descriptions only ever fill remote
// descriptions that are empty by this definition. Patterns are applied until
// the text stops shrinking so nested empty blocks collapse too.
func IsDescriptionEmpty(html string) bool {
	text := strings.TrimSpace(html)
	for text != "" {
		before := text
		for _, artifact := range emptyHTMLArtifacts {
			text = artifact.ReplaceAllString(text, "")
		}
		if text == before {
			break
		}
	}
	return text == ""
}
