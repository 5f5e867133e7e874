package assemble

import (
	"fmt"
	"strings"
)

// Render joins included bodies in order, each preceded by a marker naming
// the skill and its root.
func Render(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("<!-- skill: %s (%s) -->\n%s", it.Entry.Name, it.Entry.RootID, strings.TrimRight(string(it.Body), "\n")))
	}
	return strings.Join(parts, "\n\n")
}
