package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
models:
  - name: rooms-primary
    path: assets/rooms_640.onnx
    input: images
    weight: 1.0
    outputs:
      - name: output0
        shape: [1, 25200, 6]
  - path: assets/rooms_aux.onnx
    outputs:
      - name: output0
        shape: [1, 37, 8400]
      - name: output1
        shape: [1, 8400, 32, 32]
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if len(m.Models) != 2 {
		t.Fatalf("model count: got %d, want 2", len(m.Models))
	}

	if m.Models[0].Name != "rooms-primary" || m.Models[0].Weight != 1.0 {
		t.Errorf("first model: %+v", m.Models[0])
	}

	// Omitted fields get defaults.
	second := m.Models[1]
	if second.Name != "model-1" {
		t.Errorf("default name: got %q, want model-1", second.Name)
	}
	if second.Input != "images" {
		t.Errorf("default input: got %q, want images", second.Input)
	}
	if second.Weight != 1.0 {
		t.Errorf("default weight: got %v, want 1.0", second.Weight)
	}
	if len(second.Outputs) != 2 || second.Outputs[1].Shape[3] != 32 {
		t.Errorf("outputs: %+v", second.Outputs)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty", "models: []"},
		{"missing path", "models:\n  - name: x\n    outputs:\n      - name: o\n        shape: [1]"},
		{"negative weight", "models:\n  - path: a.onnx\n    weight: -0.5\n    outputs:\n      - name: o\n        shape: [1]"},
		{"no outputs", "models:\n  - path: a.onnx"},
		{"unnamed output", "models:\n  - path: a.onnx\n    outputs:\n      - shape: [1]"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadManifest(writeManifest(t, tc.content)); err == nil {
				t.Error("invalid manifest accepted")
			}
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
