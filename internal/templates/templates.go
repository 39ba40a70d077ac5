package templates

import (
	"embed"
	"fmt"

	"github.com/aymerick/raymond"
)

//go:embed files/*.hbs
var Files embed.FS

const (
	ConfigFile      = "files/config.toml.hbs"
	FirstRun        = "files/first_run.hbs"
	Instructions    = "files/instructions.hbs"
	SetupIncomplete = "files/setup_incomplete.hbs"
	SetupSaved      = "files/setup_saved.hbs"
)

// Render executes the named handlebars template against ctx.
func Render(name string, ctx map[string]interface{}) (string, error) {
	source, err := Files.ReadFile(name)

	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", name, err)
	}

	tpl, err := raymond.Parse(string(source))

	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	out, err := tpl.Exec(ctx)

	if err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}

	return out, nil
}
