// Package i18n loads the bot's localized strings into a go-i18n bundle and
// renders them as text templates.
package i18n

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// DefaultLocale is used when a user's locale has no catalog.
const DefaultLocale = "en_US"

//go:embed locales/*.json
var localeFS embed.FS

// Catalog resolves Messenger locales (en_US, fr_CA, ...) to loaded message
// files and renders their messages.
type Catalog struct {
	bundle     *goi18n.Bundle
	names      []string
	matcher    language.Matcher
	localizers map[string]*goi18n.Localizer
}

// Load reads the embedded locale files.
func Load() (*Catalog, error) {
	return LoadFS(localeFS, "locales")
}

// LoadFS reads every *.json file in dir. File names are BCP 47 tags
// (en-US.json) and are exposed as Messenger locales (en_US); keys of nested
// objects are joined with ".".
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	fallback := language.Make(DefaultLocale)
	bundle := goi18n.NewBundle(fallback)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read locale dir %s: %w", dir, err)
	}

	// The fallback goes first so the matcher picks it when nothing matches.
	names := []string{DefaultLocale}
	tags := []language.Tag{fallback}
	foundFallback := false
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".json" {
			continue
		}
		mf, err := bundle.LoadMessageFileFS(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("load locale %s: %w", e.Name(), err)
		}
		name := strings.ReplaceAll(strings.TrimSuffix(e.Name(), ".json"), "-", "_")
		slog.Debug("i18n.LoadFS: loaded locale", "locale", name, "tag", mf.Tag, "messages", len(mf.Messages))
		if name == DefaultLocale {
			foundFallback = true
			continue
		}
		names = append(names, name)
		tags = append(tags, mf.Tag)
	}
	if !foundFallback {
		return nil, fmt.Errorf("fallback locale %s missing", DefaultLocale)
	}

	c := &Catalog{
		bundle:     bundle,
		names:      names,
		matcher:    language.NewMatcher(tags),
		localizers: make(map[string]*goi18n.Localizer, len(names)),
	}
	for i, name := range names {
		c.localizers[name] = goi18n.NewLocalizer(bundle, tags[i].String())
	}
	return c, nil
}

// MustLoad is Load that panics; the embedded catalog is validated by tests.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Locales returns the loaded locale codes, sorted.
func (c *Catalog) Locales() []string {
	locales := append([]string(nil), c.names...)
	sort.Strings(locales)
	return locales
}

// Resolve maps a user locale to a loaded locale: exact match, then the
// closest language match, then the fallback.
func (c *Catalog) Resolve(locale string) string {
	if _, ok := c.localizers[locale]; ok {
		return locale
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return DefaultLocale
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No {
		return DefaultLocale
	}
	return c.names[idx]
}

// T renders key for locale with args as template data. Missing keys fall
// back to the default locale and then to the key itself.
func (c *Catalog) T(locale, key string, args ...map[string]string) string {
	var data map[string]string
	if len(args) > 0 {
		data = make(map[string]string)
		for _, a := range args {
			for k, v := range a {
				data[k] = v
			}
		}
	}
	s, err := c.localizers[c.Resolve(locale)].Localize(&goi18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		var notFound *goi18n.MessageNotFoundErr
		if errors.As(err, &notFound) {
			slog.Warn("Catalog.T: missing key", "key", key, "locale", locale)
		} else {
			slog.Error("Catalog.T: render failed", "key", key, "locale", locale, "error", err)
		}
		return key
	}
	return s
}
