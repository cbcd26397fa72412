package orchestrate

import (
	"regexp"
	"strings"
)

// Sentinel tokens agents emit to signal protocol events. The multi-agent
// tokens are matched case-insensitively anywhere in the text; the
// single-agent token must stand alone on its own line.
const (
	SentinelGroupComplete  = "[[GROUP_REFLECT_COMPLETE]]"
	SentinelNeedsIteration = "[[NEEDS_ITERATION]]"
	SentinelComplete       = "[[REFLECTION_COMPLETE]]"
)

var (
	reflectionCompleteRe = regexp.MustCompile(`(?m)^\[\[REFLECTION_COMPLETE\]\]$`)
	sentinelStripRe      = regexp.MustCompile(`(?i)\[\[(?:GROUP_REFLECT_COMPLETE|NEEDS_ITERATION|REFLECTION_COMPLETE)\]\]`)
)

// HasGroupComplete reports whether the text carries the group completion
// sentinel.
func HasGroupComplete(text string) bool {
	return strings.Contains(strings.ToUpper(text), SentinelGroupComplete)
}

// HasNeedsIteration reports whether the text carries the continuation
// sentinel.
func HasNeedsIteration(text string) bool {
	return strings.Contains(strings.ToUpper(text), SentinelNeedsIteration)
}

// HasReflectionComplete reports whether the single-agent completion sentinel
// appears alone on a line.
func HasReflectionComplete(text string) bool {
	return reflectionCompleteRe.MatchString(text)
}

// StripSentinels removes sentinel tokens from text for user-facing display.
// Detection is case-insensitive, so stripping must be too, or an oddly cased
// token would complete the run and still leak into the shown text.
func StripSentinels(text string) string {
	return strings.TrimSpace(sentinelStripRe.ReplaceAllString(text, ""))
}
