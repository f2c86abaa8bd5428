// Package language maps free text to an ISO 639-1 language code.
package language

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/pemistahl/lingua-go"

	"feedwatch/internal/domain"
)

type Config struct {
	LowAccuracy         bool
	MinRelativeDistance float64
}

// Detector classifies text. It never panics and reports domain.UnknownLanguage
// whenever no language can be determined.
type Detector struct {
	detect func(text string) (string, bool)
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Detector {
	builder := lingua.NewLanguageDetectorBuilder().FromAllLanguages()
	if cfg.LowAccuracy {
		builder = builder.WithLowAccuracyMode()
	}
	if cfg.MinRelativeDistance > 0 {
		builder = builder.WithMinimumRelativeDistance(cfg.MinRelativeDistance)
	}
	detector := builder.Build()

	return &Detector{
		detect: func(text string) (string, bool) {
			lang, ok := detector.DetectLanguageOf(text)
			if !ok {
				return "", false
			}
			return strings.ToLower(lang.IsoCode639_1().String()), true
		},
		logger: logger.With("component", "language"),
	}
}

// Classify returns the language code of text.
func (d *Detector) Classify(text string) (code string) {
	if !hasLetters(text) {
		return domain.UnknownLanguage
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("language detection panicked", "panic", r)
			code = domain.UnknownLanguage
		}
	}()

	code, ok := d.detect(text)
	if !ok || code == "" {
		return domain.UnknownLanguage
	}
	return code
}

func hasLetters(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
