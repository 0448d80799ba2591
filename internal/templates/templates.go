package templates

import (
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/iamwavecut/joinbot/resources"
)

const embeddedPath = "templates/messages.yml"

// Vars holds placeholder substitutions, keyed without braces.
type Vars map[string]string

var state = struct {
	sync.Mutex
	defaults  map[string]string
	overrides map[string]string
	loaded    bool
}{
	defaults:  map[string]string{},
	overrides: map[string]string{},
}

func load() {
	data, err := resources.FS.ReadFile(embeddedPath)
	if err != nil {
		log.WithError(err).Errorln("cant load embedded templates")
		return
	}
	if err := yaml.Unmarshal(data, &state.defaults); err != nil {
		log.WithError(err).Errorln("cant unmarshal embedded templates")
	}
}

// LoadOverrides merges operator-provided templates over the embedded
// defaults. Unknown keys are accepted, missing ones fall back.
func LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	overrides := map[string]string{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return err
	}
	state.Lock()
	defer state.Unlock()
	state.overrides = overrides
	return nil
}

// Get returns the raw template for a name, empty string if unknown.
func Get(name string) string {
	state.Lock()
	defer state.Unlock()
	if !state.loaded {
		load()
		state.loaded = true
	}
	if t, ok := state.overrides[name]; ok {
		return t
	}
	if t, ok := state.defaults[name]; ok {
		return t
	}
	log.WithField("template", name).Trace("no such template")
	return ""
}

// Render substitutes {key} placeholders in the named template.
func Render(name string, vars Vars) string {
	text := Get(name)
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}
