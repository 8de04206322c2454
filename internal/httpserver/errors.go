package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/llmrelay/llmrelay/internal/apierrors"
)

// writeJSONError serializes err as the {error, tier, attempts} body named in
// spec §7, choosing a status code by the error's classified kind.
func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	var exhausted *apierrors.ExhaustedError
	var tierErr *apierrors.TierError
	var parseErr *apierrors.ParseError

	switch {
	case errors.As(err, &exhausted):
		status = http.StatusServiceUnavailable
		body["tier"] = "all"
		body["attempts"] = exhausted.Attempts

	case errors.As(err, &tierErr):
		body["tier"] = tierErr.Tier
		switch {
		case errors.Is(tierErr.Kind, apierrors.ErrRateLimited):
			status = http.StatusTooManyRequests
		case errors.Is(tierErr.Kind, apierrors.ErrTierFatal):
			status = http.StatusBadRequest
		default:
			status = http.StatusBadGateway
		}

	case errors.As(err, &parseErr):
		status = http.StatusBadRequest

	case errors.Is(err, apierrors.ErrClientCancelled):
		// The client is already gone; nothing further to write.
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
