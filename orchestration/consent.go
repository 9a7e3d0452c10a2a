package orchestration

import (
	"fmt"
	"strings"
	"unicode"
)

// confirmationVocabulary is the fixed set of confirming phrases.
// The matching rule is deliberately mechanical: no natural-language
// layer sits in front of the consent gate.
var confirmationVocabulary = []string{
	"yes",
	"ok",
	"okay",
	"sure",
	"proceed",
	"continue",
	"go ahead",
	"search deeper",
}

// IsConfirmation reports whether a message is a consent confirmation.
// The trimmed, lowercased message must start with a vocabulary phrase
// on a word boundary: "yes please" confirms, "yesterday" and
// "say yes to X" do not.
func IsConfirmation(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return false
	}
	for _, phrase := range confirmationVocabulary {
		if !strings.HasPrefix(msg, phrase) {
			continue
		}
		if len(msg) == len(phrase) {
			return true
		}
		next := rune(msg[len(phrase)])
		if !unicode.IsLetter(next) && !unicode.IsDigit(next) {
			return true
		}
	}
	return false
}

// BuildConsentPrompt renders the user-facing prompt for a consent
// decision point
func BuildConsentPrompt(consentType ConsentType, nextTier int) *ConsentPrompt {
	p := &ConsentPrompt{Type: consentType, NextTier: nextTier}
	switch consentType {
	case ConsentAccountToggle:
		p.Message = "Deeper search uses paid sources and needs the \"extended search\" setting " +
			"turned on in your profile. Enable it there, then ask again."
	case ConsentPerQuery:
		p.Message = fmt.Sprintf("I can search deeper (tier %d sources, small cost applies). "+
			"Reply \"yes\" to continue.", nextTier)
	}
	return p
}
