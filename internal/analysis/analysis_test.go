package analysis

import (
	"testing"

	"metered-assistant-go/internal/models"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text   string
		want   string
		wantOk bool
	}{
		{"Привет, как дела?", "ru", true},
		{"你好", "zh", true},
		{"مرحبا", "ar", true},
		{"¿Dónde está la biblioteca?", "es", true},
		{"Ça va très bien", "fr", true},
		{"Straße", "de", true},
		{"I are a student", "en", true},
		{"", "en", true},
		{"こんにちは", "", false},
	}

	for _, tt := range tests {
		got, ok := DetectLanguage(tt.text)
		if got != tt.want || ok != tt.wantOk {
			t.Errorf("DetectLanguage(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOk)
		}
	}
}

func TestCountErrors(t *testing.T) {
	response := "| Original | Error Type | Explanation | Correction |\n" +
		"| I are | Grammar | verb agreement | I am |\n" +
		"| studant | Spelling | typo | student |\n"

	got := CountErrors(response)
	// 4 separators per row followed by a space, minus one
	if got.Total != 11 {
		t.Errorf("Expected total 11, got %d", got.Total)
	}
	if got.Grammar != 1 || got.Spelling != 1 || got.Vocabulary != 0 || got.Style != 0 {
		t.Errorf("Unexpected category counts: %+v", got)
	}

	russian := CountErrors("Грамматическая ошибка и орфографическая ошибка, стилистическая")
	if russian.Grammar != 1 || russian.Spelling != 1 || russian.Style != 1 {
		t.Errorf("Unexpected Russian counts: %+v", russian)
	}
	if russian.Total != 0 {
		t.Errorf("Expected total 0 without table, got %d", russian.Total)
	}
}

func TestDetectCorrectionType(t *testing.T) {
	tests := []struct {
		name     string
		original string
		response string
		want     string
	}{
		{"table with errors", "I are student", "| I are | Grammar error | ... |", models.CorrectionTypeCorrection},
		{"russian table", "Я студент", "| ... | ошибка |", models.CorrectionTypeCorrection},
		{"non latin source", "Я студент", "I am a student", models.CorrectionTypeTranslation},
		{"non latin much longer than reply", "Это очень длинное предложение на русском языке", "Hi", models.CorrectionTypeCorrection},
		{"plain latin", "I are student", "I am a student", models.CorrectionTypeCorrection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCorrectionType(tt.original, tt.response); got != tt.want {
				t.Errorf("DetectCorrectionType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildCorrection(t *testing.T) {
	record := BuildCorrection("acc1", "Привет", "Hello")
	if record.AccountId != "acc1" || record.DetectedLanguage != "ru" {
		t.Errorf("Unexpected record: %+v", record)
	}
	if record.CorrectionType != models.CorrectionTypeTranslation {
		t.Errorf("Expected translation, got %q", record.CorrectionType)
	}
}
