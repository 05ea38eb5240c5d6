package i18n

import (
	"net/http"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

const (
	langParam  = "lang"
	langCookie = "lang"
)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	cookiePath string
}

// WithCookiePath scopes the lang cookie to path. The default is "/".
func WithCookiePath(path string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if path != "" {
			c.cookiePath = path
		}
	}
}

// Middleware picks the request language from the lang query parameter,
// then the lang cookie, then Accept-Language, and falls back to defaultLang.
// A valid query parameter is remembered in the cookie.
func Middleware(defaultLang string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{cookiePath: "/"}
	for _, opt := range opts {
		opt(&cfg)
	}
	tags := Languages()
	matcher := language.NewMatcher(tags)
	localizers := make(map[string]*i18n.Localizer, len(tags))
	for _, t := range tags {
		localizers[t.String()] = NewLocalizer(t.String())
	}
	if _, ok := localizers[defaultLang]; !ok {
		localizers[defaultLang] = NewLocalizer(defaultLang)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := defaultLang
			if q := r.URL.Query().Get(langParam); localizers[q] != nil {
				lang = q
				http.SetCookie(w, &http.Cookie{
					Name:     langCookie,
					Value:    q,
					Path:     cfg.cookiePath,
					MaxAge:   365 * 24 * 60 * 60,
					SameSite: http.SameSiteLaxMode,
				})
			} else if c, err := r.Cookie(langCookie); err == nil && localizers[c.Value] != nil {
				lang = c.Value
			} else if accept := r.Header.Get("Accept-Language"); accept != "" {
				if prefs, _, err := language.ParseAcceptLanguage(accept); err == nil && len(prefs) > 0 {
					_, idx, conf := matcher.Match(prefs...)
					if conf != language.No {
						lang = tags[idx].String()
					}
				}
			}

			ctx := WithLang(r.Context(), lang)
			ctx = WithLocalizer(ctx, localizers[lang])
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
