package capabilities

import "testing"

func TestNewRegistryLoadsEmbeddedCatalogs(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	providers := r.GetAllProviders()
	if len(providers) != 2 {
		t.Errorf("got %d providers, want anthropic and lorem", len(providers))
	}
}

func TestGetModelCapabilities(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	caps, err := r.GetModelCapabilities("lorem", "lorem-test")
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if caps.ID != "lorem-test" || caps.DisplayName == "" {
		t.Errorf("capabilities = %+v", caps)
	}

	if _, err := r.GetModelCapabilities("lorem", "nope"); err == nil {
		t.Error("unknown model must fail")
	}
	if _, err := r.GetModelCapabilities("nope", "lorem-test"); err == nil {
		t.Error("unknown provider must fail")
	}
}

func TestListProviderModelsPreservesYAMLOrder(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	models, err := r.ListProviderModels("lorem")
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 3 || models[0].ID != "lorem-fast" || models[2].ID != "lorem-test" {
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID)
		}
		t.Errorf("model order = %v", ids)
	}
}
