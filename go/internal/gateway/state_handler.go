package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/session"
)

// LobbyProvider looks up the current state of a lobby
type LobbyProvider interface {
	Lobby(ctx context.Context, code string) (events.LobbyUpdatePayload, error)
}

// StateHandler serves lobby state over plain HTTP
type StateHandler struct {
	lobbies LobbyProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(lobbies LobbyProvider) *StateHandler {
	return &StateHandler{lobbies: lobbies}
}

// HandleGetLobby handles GET /api/lobbies/{code}
func (h *StateHandler) HandleGetLobby(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	lobby, err := h.lobbies.Lobby(r.Context(), code)
	if err != nil {
		errCode, message := session.Describe(err)
		status := http.StatusInternalServerError
		switch errCode {
		case session.CodeValidation:
			status = http.StatusBadRequest
		case session.CodeNotFound:
			status = http.StatusNotFound
		default:
			log.Error().Err(err).Str("lobby_code", code).Msg("failed to get lobby state")
		}
		writeJSON(w, status, events.ErrorPayload{
			Error: events.ErrorBody{Code: string(errCode), Message: message},
		})
		return
	}

	writeJSON(w, http.StatusOK, lobby)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/lobbies/{code}", h.HandleGetLobby)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
