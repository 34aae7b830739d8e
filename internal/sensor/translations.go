package sensor

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when a translation is missing in the requested
// language.
const DefaultLanguage = "de"

// Translations maps a translation key to its label per language.
type Translations map[string]map[string]string

// LoadTranslations parses the embedded translation table.
func LoadTranslations() (Translations, error) {
	data, err := catalogFS.ReadFile("translations.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read translations: %w", err)
	}
	return ParseTranslations(data)
}

// ParseTranslations parses a YAML translation table.
func ParseTranslations(data []byte) (Translations, error) {
	var t Translations
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode translations: %w", err)
	}
	for key, labels := range t {
		if labels[DefaultLanguage] == "" {
			return nil, fmt.Errorf("translation %s: missing %q label", key, DefaultLanguage)
		}
	}
	return t, nil
}

// Lookup returns the label for key in lang, falling back to DefaultLanguage.
func (t Translations) Lookup(key, lang string) (string, bool) {
	labels, ok := t[key]
	if !ok {
		return "", false
	}
	if s, ok := labels[lang]; ok && s != "" {
		return s, true
	}
	s, ok := labels[DefaultLanguage]
	return s, ok
}
