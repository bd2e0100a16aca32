// Package localization loads translation strings from JSON files, one file
// per language, and looks them up with a fallback to English.
package localization

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// DefaultLanguage is used when a key is missing in the requested language.
const DefaultLanguage = "en"

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// NewLocalizer loads every "<lang>.json" file found in path.
func NewLocalizer(path string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "read localization directory")
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := os.ReadFile(filepath.Join(path, file.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read localization file %s", file.Name())
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, errors.Wrapf(err, "parse localization file %s", file.Name())
		}
		l.translations[lang] = translations
	}

	if _, ok := l.translations[DefaultLanguage]; !ok {
		return nil, errors.Errorf("localization: %s.json missing in %s", DefaultLanguage, path)
	}
	return l, nil
}

// GetString returns the localized string for a given key and language.
// If the language or the key is not found, it returns the key itself as a fallback.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if value, ok := l.translations[lang][key]; ok {
		return value
	}
	if value, ok := l.translations[DefaultLanguage][key]; ok {
		return value
	}
	return key
}

// Format is GetString followed by fmt.Sprintf.
func (l *Localizer) Format(lang, key string, args ...any) string {
	return fmt.Sprintf(l.GetString(lang, key), args...)
}

// Supports reports whether a translation file exists for lang.
func (l *Localizer) Supports(lang string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.translations[lang]
	return ok
}

// Languages lists the loaded language codes, sorted.
func (l *Localizer) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	langs := make([]string, 0, len(l.translations))
	for lang := range l.translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
