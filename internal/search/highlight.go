package search

import "strings"

var markReplacer = strings.NewReplacer("<mark>", "", "</mark>", "")

func stripMarks(s string) string {
	return markReplacer.Replace(s)
}
