package genjob

import (
	"encoding/json"
	"fmt"
	"os"
)

const promptPlaceholder = "{{prompt}}"

// Defaults are the fixed generation parameters applied to every
// request, independent of the caller's prompt.
type Defaults struct {
	Width         int
	Height        int
	BatchSize     int
	StyleStrength float64
}

// Template is the on-disk skeleton of a backend request: a node graph
// in the backend's own format, with a placeholder where the caller's
// prompt text goes. Build instantiates a fresh copy per job so
// concurrent jobs never share graph state.
type Template struct {
	raw      []byte
	defaults Defaults
}

func LoadTemplate(path string, defaults Defaults) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var graph map[string]map[string]any
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	return &Template{raw: raw, defaults: defaults}, nil
}

// Build returns the node graph with the prompt text substituted and the
// default parameters applied wherever a node declares the matching
// input.
func (t *Template) Build(prompt string) (map[string]any, error) {
	var graph map[string]map[string]any
	if err := json.Unmarshal(t.raw, &graph); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	for _, node := range graph {
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		if text, ok := inputs["text"].(string); ok && text == promptPlaceholder {
			inputs["text"] = prompt
		}
		applyDefault(inputs, "width", float64(t.defaults.Width))
		applyDefault(inputs, "height", float64(t.defaults.Height))
		applyDefault(inputs, "batch_size", float64(t.defaults.BatchSize))
		applyDefault(inputs, "denoise", t.defaults.StyleStrength)
	}

	out := make(map[string]any, len(graph))
	for id, node := range graph {
		out[id] = node
	}
	return out, nil
}

// applyDefault overrides an input only when the template declares it
// and the configured value is set.
func applyDefault(inputs map[string]any, key string, value float64) {
	if value <= 0 {
		return
	}
	if _, ok := inputs[key]; ok {
		inputs[key] = value
	}
}
