package usecase

import (
	"regexp"
	"strings"

	"campaign-delivery/internal/domain/model"
)

var placeholderRe = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Personalize substitutes {{field}} placeholders in template with values from
// the recipient. A placeholder whose field is absent (or nil) is left in the
// output verbatim, so a missing-field bug shows up in the delivered text
// instead of silently rendering blank. A nil recipient yields the template
// unchanged; an empty template yields "".
func Personalize(template string, recipient *model.Recipient) string {
	if template == "" {
		return ""
	}
	if recipient == nil {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		field := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := recipient.Field(field); ok {
			return v
		}
		return match
	})
}
