package generate

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptPackRaw []byte

type promptPack struct {
	Prompts map[string]string `yaml:"prompts"`
}

var promptTemplates = mustLoadPrompts()

func mustLoadPrompts() map[string]*template.Template {
	var pack promptPack
	if err := yaml.Unmarshal(promptPackRaw, &pack); err != nil {
		panic(fmt.Sprintf("parse prompt pack: %v", err))
	}

	funcs := template.FuncMap{"join": strings.Join}
	out := make(map[string]*template.Template, len(pack.Prompts))
	for name, text := range pack.Prompts {
		tmpl, err := template.New(name).Funcs(funcs).Parse(text)
		if err != nil {
			panic(fmt.Sprintf("parse prompt %q: %v", name, err))
		}
		out[name] = tmpl
	}
	return out
}

// renderPrompt renders a named prompt template with the payload.
func renderPrompt(name string, data any) (string, error) {
	tmpl, ok := promptTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return sb.String(), nil
}
