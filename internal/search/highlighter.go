package search

import (
	"strings"

	"github.com/hyperjump/chatdigest/pkg/utils"
)

// Snippet returns the first line of text cut to maxLen runes, for one-line listings.
func Snippet(text string, maxLen int) string {
	first, _, _ := strings.Cut(text, "\n")
	return utils.Truncate(first, maxLen)
}
