package i18n

import (
	"sort"
	"strings"
	"sync"

	"github.com/iamwavecut/modbot/resources"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const translationsFile = "i18n/translations.yml"

// translations.yml maps an English key to its translations by upper-case
// language code. English is the key itself.
var state = struct {
	sync.RWMutex
	once            sync.Once
	translations    map[string]map[string]string
	languages       []string
	defaultLanguage string
}{
	defaultLanguage: "en",
}

func load() {
	state.once.Do(func() {
		content, err := resources.FS.ReadFile(translationsFile)
		if err != nil {
			log.WithError(err).Errorln("cant load i18n")
			return
		}
		dict := map[string]map[string]string{}
		if err := yaml.Unmarshal(content, &dict); err != nil {
			log.WithError(err).Errorln("cant unmarshal i18n")
			return
		}

		seen := map[string]struct{}{"en": {}}
		for _, byLang := range dict {
			for code := range byLang {
				seen[strings.ToLower(code)] = struct{}{}
			}
		}
		languages := make([]string, 0, len(seen))
		for code := range seen {
			languages = append(languages, code)
		}
		sort.Strings(languages)

		state.Lock()
		state.translations = dict
		state.languages = languages
		state.Unlock()
	})
}

func SetDefaultLanguage(lang string) {
	state.Lock()
	defer state.Unlock()
	if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
		state.defaultLanguage = lang
	}
}

func DefaultLanguage() string {
	state.RLock()
	defer state.RUnlock()
	return state.defaultLanguage
}

// Get translates key into lang, falling back to the default language and
// then to the key itself.
func Get(key, lang string) string {
	load()
	if lang == "" {
		lang = DefaultLanguage()
	}
	if strings.EqualFold(lang, "en") {
		return key
	}

	state.RLock()
	defer state.RUnlock()
	if res, ok := state.translations[key][strings.ToUpper(lang)]; ok && res != "" {
		return res
	}
	log.Tracef(`no translation for key "%s"`, key)
	return key
}

func GetLanguagesList() []string {
	load()
	state.RLock()
	defer state.RUnlock()
	return append([]string(nil), state.languages...)
}
