package usecase

import "strings"

// DefaultWakeWord is used when no wake word is configured.
const DefaultWakeWord = "hello"

type finalClass int

const (
	finalNoise finalClass = iota
	finalWake
	finalCommand
)

func normalizeWakeWord(word string) string {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return DefaultWakeWord
	}
	return word
}

// containsWakeWord is a plain substring match, so "othello" wakes "hello".
func containsWakeWord(text string, wakeWord string) bool {
	return wakeWord != "" && strings.Contains(strings.ToLower(text), wakeWord)
}

func classifyFinal(text string, wakeWord string, armed bool) finalClass {
	switch {
	case !armed && containsWakeWord(text, wakeWord):
		return finalWake
	case armed:
		return finalCommand
	default:
		return finalNoise
	}
}
