// Package lang normalizes language identifiers to the canonical BCP-47 tags
// used throughout the pipeline.
//
// Clients and call-control frontends send short codes ("he", "en", "ru");
// speech providers want regional tags ("he-IL", "en-US", "ru-RU"). All
// normalization happens once at the session boundary so that every comparison
// downstream — recipient map keys, cache keys, transcript rows — operates on
// canonical tags.
package lang

import "strings"

// regional maps short ISO 639-1 codes to the regional tag used by the speech
// providers. Codes not listed here pass through with case normalization only.
var regional = map[string]string{
	"ar": "ar-SA",
	"de": "de-DE",
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"he": "he-IL",
	"hi": "hi-IN",
	"it": "it-IT",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"nl": "nl-NL",
	"pl": "pl-PL",
	"pt": "pt-BR",
	"ru": "ru-RU",
	"tr": "tr-TR",
	"uk": "uk-UA",
	"zh": "zh-CN",
}

// Canonical returns the canonical BCP-47 tag for code. Short codes are
// expanded to their regional form ("he" → "he-IL"); tags that already carry a
// region are case-normalized ("EN-us" → "en-US"). The empty string maps to
// the empty string.
func Canonical(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}

	base, region, hasRegion := strings.Cut(code, "-")
	base = strings.ToLower(base)

	if !hasRegion {
		if full, ok := regional[base]; ok {
			return full
		}
		return base
	}
	return base + "-" + strings.ToUpper(region)
}

// Base returns the lowercase primary subtag of a language tag
// ("he-IL" → "he").
func Base(tag string) string {
	base, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(base)
}

// Same reports whether two tags denote the same language, ignoring region
// ("en-US" and "en-GB" are the same for translation purposes).
func Same(a, b string) bool {
	return Base(a) != "" && Base(a) == Base(b)
}
