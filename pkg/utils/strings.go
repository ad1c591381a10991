package utils

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var sensitiveKeys = []string{"token", "secret", "password", "authorization", "consent-id"}

func Capitalize(s string) string {
	return cases.Title(language.English).String(strings.ToLower(s))
}

func Upper(s string) string {
	return cases.Upper(language.Und).String(s)
}

// Mask hides everything but the last four characters
func Mask(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// MaskHeaders returns a copy of h with credential headers masked
func MaskHeaders(h http.Header) http.Header {
	masked := h.Clone()
	for key, values := range masked {
		if !isSensitive(key) {
			continue
		}
		for i := range values {
			values[i] = Mask(values[i])
		}
	}
	return masked
}

// MaskQuery returns a copy of q with credential parameters masked
func MaskQuery(q url.Values) url.Values {
	masked := make(url.Values, len(q))
	for key, values := range q {
		for _, v := range values {
			if isSensitive(key) {
				v = Mask(v)
			}
			masked.Add(key, v)
		}
	}
	return masked
}
