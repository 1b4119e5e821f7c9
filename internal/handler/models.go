package handler

import (
	"log/slog"
	"net/http"

	"github.com/zzxtbeta/rag-demo/internal/capabilities"
	"github.com/zzxtbeta/rag-demo/internal/httputil"
)

// ModelsHandler serves the model catalog.
type ModelsHandler struct {
	registry *capabilities.Registry
	logger   *slog.Logger
}

// NewModelsHandler creates a models handler.
func NewModelsHandler(registry *capabilities.Registry, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		registry: registry,
		logger:   logger,
	}
}

// ListModels handles GET /api/models.
// Returns every provider's models in catalog order.
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	result := make(map[string][]capabilities.ModelCapabilities)

	for _, provider := range h.registry.GetAllProviders() {
		models, err := h.registry.ListProviderModels(provider)
		if err != nil {
			h.logger.Error("failed to list provider models", "provider", provider, "error", err)
			continue
		}
		result[provider] = models
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": result,
	})
}
