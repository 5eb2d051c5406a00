package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputSpec declares one output tensor of a model: its graph name and
// its shape. The pipeline never inspects the model beyond this.
type OutputSpec struct {
	Name  string  `yaml:"name"`
	Shape []int64 `yaml:"shape"`
}

// Spec describes one ensemble member.
type Spec struct {
	Name    string       `yaml:"name"`
	Path    string       `yaml:"path"`
	Input   string       `yaml:"input"`
	Weight  float32      `yaml:"weight"`
	Outputs []OutputSpec `yaml:"outputs"`
}

// Manifest is the on-disk model configuration, a YAML file listing the
// ensemble in order. Order is fixed for the lifetime of the process.
type Manifest struct {
	Models []Spec `yaml:"models"`
}

// LoadManifest reads and validates a model manifest.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Models) == 0 {
		return Manifest{}, fmt.Errorf("manifest %s declares no models", path)
	}

	for i := range m.Models {
		spec := &m.Models[i]
		if spec.Path == "" {
			return Manifest{}, fmt.Errorf("model %d: missing path", i)
		}
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("model-%d", i)
		}
		if spec.Input == "" {
			spec.Input = "images"
		}
		if spec.Weight == 0 {
			spec.Weight = 1.0
		}
		if spec.Weight < 0 {
			return Manifest{}, fmt.Errorf("model %s: negative weight", spec.Name)
		}
		if len(spec.Outputs) == 0 {
			return Manifest{}, fmt.Errorf("model %s: no outputs declared", spec.Name)
		}
		for _, out := range spec.Outputs {
			if out.Name == "" || len(out.Shape) == 0 {
				return Manifest{}, fmt.Errorf("model %s: output needs name and shape", spec.Name)
			}
		}
	}
	return m, nil
}
