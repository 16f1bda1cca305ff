package i18n

import "strings"

type Lang string

const (
	RU Lang = "ru"
	EN Lang = "en"
)

// Parse accepts a language tag such as "ru", "ru-RU" or "en_US" and falls
// back to EN.
func Parse(s string) Lang {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, "ru") {
		return RU
	}
	return EN
}

// Pick returns the variant of a text for lang.
func Pick(lang Lang, en, ru string) string {
	if lang == RU {
		return ru
	}
	return en
}
