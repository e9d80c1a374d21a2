package comfy

import (
	"embed"
	"fmt"
	"os"
)

//go:embed templates/*.json
var templatesFS embed.FS

// DefaultTemplate returns the built-in image-to-video workflow. Users
// with custom node graphs point the agent at their own JSON instead.
func DefaultTemplate() (Workflow, error) {
	data, err := templatesFS.ReadFile("templates/i2v_default.json")
	if err != nil {
		return nil, fmt.Errorf("embedded workflow template missing: %w", err)
	}
	return ParseWorkflow(data)
}

// LoadTemplate reads a workflow template from disk, falling back to the
// built-in one when path is empty.
func LoadTemplate(path string) (Workflow, error) {
	if path == "" {
		return DefaultTemplate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read workflow template: %w", err)
	}
	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("workflow template %s: %w", path, err)
	}
	return wf, nil
}
