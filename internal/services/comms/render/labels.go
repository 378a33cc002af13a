// Package render resolves projection label keys into localized, role-facing
// text. The projector returns stable keys; this package owns the per-locale
// catalogs.
package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/classpulse/classpulse/internal/services/comms/domain"
)

// DefaultLocale is the fallback when a requested locale is unknown.
const DefaultLocale = "en-US"

var supported = []language.Tag{
	language.AmericanEnglish,
	language.BrazilianPortuguese,
}

var matcher = language.NewMatcher(supported)

// Printer returns a message printer for the best-matching supported locale.
func Printer(locale string) *message.Printer {
	tag, _ := language.MatchStrings(matcher, locale)
	return message.NewPrinter(tag)
}

// Label renders the localized state label for one projection.
func Label(locale string, projection domain.Projection) string {
	return Printer(locale).Sprintf(projection.LabelKey)
}
