package orchestrator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aescanero/dagrun/pkg/domain"
)

// sectionLimit is the longest result, in characters, copied verbatim into
// the summary.
const sectionLimit = 500

// Summarize builds the final result of a completed task from its subtask
// results, in plan order.
func Summarize(subtasks []domain.Subtask) string {
	var b strings.Builder
	b.WriteString("# Task Execution Summary\n\n")

	for _, st := range subtasks {
		fmt.Fprintf(&b, "## %s\n\n", titleCase(st.Type))
		if st.Result == "" {
			b.WriteString("*No results provided*\n\n")
			continue
		}
		b.WriteString(condense(st.Result))
	}
	return b.String()
}

// condense keeps short results whole. Longer ones keep their first section
// when the result has "\n##" section breaks and are cut at sectionLimit
// characters otherwise.
func condense(result string) string {
	if utf8.RuneCountInString(result) <= sectionLimit {
		return result + "\n\n"
	}

	sections := strings.Split(result, "\n##")
	if len(sections) > 1 {
		return fmt.Sprintf("%s\n\n*...plus %d more sections...*\n\n", sections[0], len(sections)-1)
	}
	return string([]rune(result)[:sectionLimit]) + "...\n\n"
}

// titleCase turns "web_research" into "Web Research".
func titleCase(kind string) string {
	words := strings.Fields(strings.ReplaceAll(kind, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
