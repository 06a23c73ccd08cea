package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	mu          sync.RWMutex
	bundle      *i18n.Bundle
	defaultLang = "en"
)

// Init loads the translation bundle with lang as the default language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}

	mu.Lock()
	bundle = b
	defaultLang = lang
	mu.Unlock()
	return nil
}

func currentBundle() (*i18n.Bundle, string) {
	mu.RLock()
	b, lang := bundle, defaultLang
	mu.RUnlock()
	if b != nil {
		return b, lang
	}
	// Packages used without Init (tests, tools) get English.
	if err := Init("en"); err != nil {
		slog.Error("init default locale", "error", err)
		return nil, "en"
	}
	mu.RLock()
	defer mu.RUnlock()
	return bundle, defaultLang
}

// NewLocalizer creates a localizer for the given languages in preference
// order. Accept-Language header values are accepted as-is.
func NewLocalizer(langs ...string) *i18n.Localizer {
	b, _ := currentBundle()
	return i18n.NewLocalizer(b, langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	b, lang := currentBundle()
	return i18n.NewLocalizer(b, lang)
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return Td(ctx, msgID, nil)
}

// Td translates a message by ID with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}
