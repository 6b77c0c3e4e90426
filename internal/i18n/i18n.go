// Package i18n localizes the messages carried by schedule events.
package i18n

import (
	"embed"
	"log/slog"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/tartampluch/go-schedule/internal/config"
	"github.com/tartampluch/go-schedule/internal/engine"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Catalog implements engine.Messages on top of a go-i18n bundle.
// Missing translations fall back to engine.DefaultMessages.
type Catalog struct {
	bundle    *i18n.Bundle
	languages []string

	mu        sync.RWMutex
	localizer *i18n.Localizer
	lang      string
}

var _ engine.Messages = (*Catalog)(nil)

// NewCatalog loads the embedded locales and selects lang.
func NewCatalog(lang string) (*Catalog, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}

	c := &Catalog{bundle: bundle}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "active.") || !strings.HasSuffix(name, ".json") {
			slog.Debug(config.MsgLocaleSkip,
				config.LogKeyComponent, config.CompI18n,
				config.LogKeyFile, name,
			)
			continue
		}

		langCode := strings.TrimSuffix(strings.TrimPrefix(name, "active."), ".json")
		if langCode == "" {
			slog.Warn(config.MsgLocaleBadName,
				config.LogKeyComponent, config.CompI18n,
				config.LogKeyFile, name,
			)
			continue
		}

		if _, err := bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
			slog.Error(config.ErrLocaleLoad,
				config.LogKeyComponent, config.CompI18n,
				config.LogKeyFile, name,
				config.LogKeyError, err,
			)
			continue
		}
		c.languages = append(c.languages, langCode)
		slog.Debug(config.MsgLocaleLoaded,
			config.LogKeyComponent, config.CompI18n,
			config.LogKeyLang, langCode,
		)
	}

	c.SetLanguage(lang)
	return c, nil
}

// Languages lists the loaded locale codes.
func (c *Catalog) Languages() []string {
	return append([]string(nil), c.languages...)
}

// Language returns the selected locale code.
func (c *Catalog) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lang
}

// SetLanguage switches the active locale. An empty lang selects the default.
func (c *Catalog) SetLanguage(lang string) {
	if lang == "" {
		lang = config.DefaultLanguage
	}
	c.mu.Lock()
	c.lang = lang
	c.localizer = i18n.NewLocalizer(c.bundle, lang, config.DefaultLanguage)
	c.mu.Unlock()
}

// localize translates key; ok is false when the key is missing.
func (c *Catalog) localize(key string, data map[string]interface{}) (string, bool) {
	c.mu.RLock()
	loc := c.localizer
	c.mu.RUnlock()

	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: key, TemplateData: data})
	if err != nil {
		slog.Debug(config.MsgTransMissing,
			config.LogKeyComponent, config.CompI18n,
			config.LogKeyKey, key,
			config.LogKeyError, err,
		)
		return "", false
	}
	return msg, true
}

func (c *Catalog) FetchFailed(cause string) string {
	if msg, ok := c.localize(config.TKeyFetchFailed, map[string]interface{}{"Cause": cause}); ok {
		return msg
	}
	return engine.DefaultMessages{}.FetchFailed(cause)
}

func (c *Catalog) Inquiring(teacherName string) string {
	if msg, ok := c.localize(config.TKeyInquiring, map[string]interface{}{"Name": teacherName}); ok {
		return msg
	}
	return engine.DefaultMessages{}.Inquiring(teacherName)
}

func (c *Catalog) InvalidDate(date string) string {
	if msg, ok := c.localize(config.TKeyInvalidDate, map[string]interface{}{"Date": date}); ok {
		return msg
	}
	return engine.DefaultMessages{}.InvalidDate(date)
}

func (c *Catalog) PreviousDisabled() string {
	if msg, ok := c.localize(config.TKeyPrevDisabled, nil); ok {
		return msg
	}
	return engine.DefaultMessages{}.PreviousDisabled()
}
