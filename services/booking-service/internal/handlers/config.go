package handlers

import (
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/medibook/libs/httpx"
)

type ConfigHandler struct {
	mapsAPIKey string
	logger     *slog.Logger
}

func NewConfigHandler(mapsAPIKey string, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{mapsAPIKey: mapsAPIKey, logger: logger}
}

// Get exposes the browser maps key. A missing key is a deployment error.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.mapsAPIKey == "" {
		h.logger.Error("google maps api key is not configured")
		httpx.WriteError(w, http.StatusInternalServerError, "Maps configuration is not available", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"googleMapsApiKey": h.mapsAPIKey})
}
