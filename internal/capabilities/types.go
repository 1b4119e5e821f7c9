package capabilities

import "gopkg.in/yaml.v3"

// ModelCapabilities represents the metadata for a specific model.
type ModelCapabilities struct {
	// Model identifier (set during YAML unmarshaling)
	ID string `yaml:"-" json:"id"`

	// Display information
	DisplayName string `yaml:"display_name" json:"display_name"`
	Description string `yaml:"description" json:"description"`

	// Limits
	ContextWindow int `yaml:"context_window" json:"context_window"`
	MaxOutput     int `yaml:"max_output" json:"max_output"`
}

// ProviderCapabilities represents all models for a provider.
type ProviderCapabilities struct {
	Provider string              `yaml:"provider" json:"provider"`
	Models   []ModelCapabilities `yaml:"-" json:"models"` // Ordered slice, populated by custom unmarshaler
}

// UnmarshalYAML implements custom YAML unmarshaling to preserve model order from the YAML file.
func (p *ProviderCapabilities) UnmarshalYAML(node *yaml.Node) error {
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "provider" {
			p.Provider = node.Content[i+1].Value
			break
		}
	}

	// Decode models into a map first to get the full data
	type modelsOnly struct {
		Models map[string]ModelCapabilities `yaml:"models"`
	}
	var m modelsOnly
	if err := node.Decode(&m); err != nil {
		return err
	}

	// Extract model keys in YAML order and build the slice
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "models" {
			modelsNode := node.Content[i+1]
			// modelsNode.Content alternates: key, value, key, value...
			for j := 0; j < len(modelsNode.Content); j += 2 {
				modelID := modelsNode.Content[j].Value
				if model, ok := m.Models[modelID]; ok {
					model.ID = modelID
					p.Models = append(p.Models, model)
				}
			}
			break
		}
	}

	return nil
}
