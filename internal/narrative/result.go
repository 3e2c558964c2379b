package narrative

import "strings"

// Result pairs the story with its historical-context list.
type Result struct {
	Story       string `json:"story"`
	ContextList string `json:"context_list"`
}

// WordCount counts whitespace-separated words in the story.
func (r Result) WordCount() int {
	return len(strings.Fields(r.Story))
}

// Paragraphs splits the story on blank lines, dropping empty paragraphs.
func (r Result) Paragraphs() []string {
	var out []string
	for _, p := range strings.Split(r.Story, "\n\n") {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// Facts returns the context list entries with their leading dash removed.
func (r Result) Facts() []string {
	var out []string
	for _, line := range strings.Split(r.ContextList, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "-•*"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
