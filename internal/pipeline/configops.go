package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/pampax-dev/pampax/internal/config"
)

// ConfigShow returns the pipeline's active configuration section.
func (p *Pipeline) ConfigShow() config.PipelineConfig {
	return p.deps.Pipeline
}

// ConfigValidate checks cfg against its allowed ranges without
// mutating the running pipeline's configuration.
func (p *Pipeline) ConfigValidate(cfg config.PipelineConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validate: %w", err)
	}
	return nil
}

// ConfigExport serializes the pipeline's active configuration as YAML,
// matching Config.WriteYAML's rendering of the rest of the config
// tree.
func (p *Pipeline) ConfigExport() (string, error) {
	out, err := yaml.Marshal(map[string]config.PipelineConfig{"pipeline": p.deps.Pipeline})
	if err != nil {
		return "", fmt.Errorf("config export: %w", err)
	}
	return string(out), nil
}
