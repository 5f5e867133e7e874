package skills

import (
	"fmt"
	"strings"
	"time"
)

// RenderCatalog renders the candidate set as an <available_skills> block
// listing every entry with its root and 1-based priority rank.
func RenderCatalog(set *CandidateSet, now time.Time) string {
	labels := make([]string, 0, len(set.Roots))
	for _, r := range set.Roots {
		labels = append(labels, r.ID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<available_skills generated_at_utc=\"%d\" priority=\"%s\">\n", now.UTC().Unix(), xmlEscape(strings.Join(labels, ",")))
	for _, e := range set.Entries {
		root, _ := set.Root(e.RootID)
		fmt.Fprintf(&b, "  <skill name=\"%s\" source=\"%s\" path=\"%s\" priority_rank=\"%d\" />\n",
			xmlEscape(e.Name), xmlEscape(root.Label()), xmlEscape(e.Path), set.Position(e.RootID))
	}
	b.WriteString("</available_skills>")
	return b.String()
}

var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}
