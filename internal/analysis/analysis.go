// Package analysis holds the text heuristics behind the learner statistics.
// They are pure functions and make no network calls.
package analysis

import (
	"strings"
	"unicode/utf8"

	"metered-assistant-go/internal/models"
)

// ErrorCounts is a best-effort tally of corrections found in a reply.
type ErrorCounts struct {
	Total      int
	Grammar    int
	Spelling   int
	Vocabulary int
	Style      int
}

// DetectLanguage guesses an ISO 639-1 code from character ranges.
// ok is false when no rule matches.
func DetectLanguage(text string) (string, bool) {
	lower := strings.ToLower(text)

	switch {
	case anyRuneIn(text, 0x0400, 0x04FF):
		return "ru", true
	case anyRuneIn(text, 0x4E00, 0x9FFF):
		return "zh", true
	case anyRuneIn(text, 0x0600, 0x06FF):
		return "ar", true
	case strings.ContainsAny(lower, "ñáéíóúü¿¡"):
		return "es", true
	case strings.ContainsAny(lower, "àâäéèêëïîôöùûüÿç"):
		return "fr", true
	case strings.ContainsAny(lower, "äöüß"):
		return "de", true
	case allRunesBelow(text, 256):
		return "en", true
	}
	return "", false
}

// CountErrors counts category keywords in English and Russian. Total is the
// number of "| " cell separators minus the header row, which only
// approximates the rows of a markdown error table.
func CountErrors(response string) ErrorCounts {
	lower := strings.ToLower(response)

	total := strings.Count(lower, "| ") - 1
	if total < 0 {
		total = 0
	}

	return ErrorCounts{
		Total:      total,
		Grammar:    strings.Count(lower, "grammar") + strings.Count(lower, "грамматическ"),
		Spelling:   strings.Count(lower, "spelling") + strings.Count(lower, "орфографическ"),
		Vocabulary: strings.Count(lower, "vocabulary") + strings.Count(lower, "словарн"),
		Style:      strings.Count(lower, "style") + strings.Count(lower, "стилистическ"),
	}
}

// DetectCorrectionType classifies a reply as a correction or a translation.
func DetectCorrectionType(original, response string) string {
	lower := strings.ToLower(response)
	if strings.Contains(response, "|") && (strings.Contains(lower, "error") || strings.Contains(lower, "ошибк")) {
		return models.CorrectionTypeCorrection
	}

	if !allRunesBelow(original, 128) &&
		utf8.RuneCountInString(original) < utf8.RuneCountInString(response)*2 {
		return models.CorrectionTypeTranslation
	}

	return models.CorrectionTypeCorrection
}

// BuildCorrection assembles the analytics row for one answered message.
func BuildCorrection(accountId, original, response string) models.CorrectionRecord {
	counts := CountErrors(response)
	language, _ := DetectLanguage(original)
	return models.CorrectionRecord{
		AccountId:        accountId,
		OriginalText:     original,
		CorrectedText:    response,
		CorrectionType:   DetectCorrectionType(original, response),
		ErrorCount:       counts.Total,
		DetectedLanguage: language,
		ErrorsGrammar:    counts.Grammar,
		ErrorsSpelling:   counts.Spelling,
		ErrorsVocabulary: counts.Vocabulary,
		ErrorsStyle:      counts.Style,
	}
}

func anyRuneIn(text string, lo, hi rune) bool {
	for _, r := range text {
		if r >= lo && r <= hi {
			return true
		}
	}
	return false
}

func allRunesBelow(text string, limit rune) bool {
	for _, r := range text {
		if r >= limit {
			return false
		}
	}
	return true
}
