// Package language normalizes user-supplied language codes and resolves
// display names. Payloads arrive with codes like "EN", "pt_BR", or "ja";
// translation models are keyed on base ISO 639-1 codes.
package language

import "strings"

// Normalize lowercases a code and strips any region or script subtag.
// "EN" -> "en", "pt-BR" -> "pt", "zh_TW" -> "zh". Whitespace is trimmed.
func Normalize(code string) string {
	lang := strings.ToLower(strings.TrimSpace(code))
	if idx := strings.IndexAny(lang, "-_"); idx >= 0 {
		lang = lang[:idx]
	}
	return lang
}

// IsValidCode reports whether a normalized code looks like an ISO 639 code:
// two or three ASCII letters. The sentinel "source" is not a code.
func IsValidCode(code string) bool {
	if len(code) < 2 || len(code) > 3 {
		return false
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// names carries native display names for the codes the relay is likely to
// serve. Codes outside the table fall back to the code itself.
var names = map[string]string{
	"ar": "العربية",
	"bn": "বাংলা",
	"de": "Deutsch",
	"en": "English",
	"es": "Español",
	"fr": "Français",
	"hi": "हिन्दी",
	"id": "Bahasa Indonesia",
	"it": "Italiano",
	"ja": "日本語",
	"ko": "한국어",
	"mr": "मराठी",
	"nl": "Nederlands",
	"pl": "Polski",
	"pt": "Português",
	"ru": "Русский",
	"sv": "Svenska",
	"ta": "தமிழ்",
	"te": "తెలుగు",
	"th": "ไทย",
	"tr": "Türkçe",
	"uk": "Українська",
	"ur": "اردو",
	"vi": "Tiếng Việt",
	"zh": "中文",
}

// Name returns the native display name for a code, normalizing first.
func Name(code string) string {
	norm := Normalize(code)
	if n, ok := names[norm]; ok {
		return n
	}
	return norm
}
