package api

import (
	"net/http"

	"arena-ai/backend/internal/interfaces"
)

// ProviderHandler serves the provider catalogue.
type ProviderHandler struct {
	service interfaces.SessionService
}

func NewProviderHandler(svc interfaces.SessionService) *ProviderHandler {
	return &ProviderHandler{service: svc}
}

// HandleListProviders godoc
// @Summary      List providers
// @Description  Lists every registered provider with its model, streaming mode and whether its
// @Description  credential is configured. Secret values are never returned.
// @Tags         Providers
// @Produce      json
// @Success      200  {array}  llm.ProviderInfo
// @Router       /v1/providers [get]
func (h *ProviderHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.ListProviders(r.Context()))
}
