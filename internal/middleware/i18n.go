package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// LocaleKey identifies the negotiated locale in a request context.
var LocaleKey = localeContextKey{}

var supportedLocales = language.NewMatcher([]language.Tag{
	language.English, // default
	language.Indonesian,
	language.Spanish,
})

// I18N negotiates the request locale from the X-Locale override or the
// Accept-Language header and stores it in the context. User-facing failure
// messages are localized against it.
func I18N(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LocaleFromContext returns the negotiated locale, falling back to English.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return "en"
}

func detectLocale(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		return normalizeLocale(v)
	}
	if header := r.Header.Get("Accept-Language"); header != "" {
		if tags, _, err := language.ParseAcceptLanguage(header); err == nil && len(tags) > 0 {
			tag, _, _ := supportedLocales.Match(tags...)
			base, _ := tag.Base()
			return base.String()
		}
	}
	if fallback != "" {
		return normalizeLocale(fallback)
	}
	return "en"
}

func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if idx := strings.IndexAny(locale, "-_"); idx > 0 {
		locale = locale[:idx]
	}
	if locale == "" {
		return "en"
	}
	return locale
}
