package http

import (
	"log/slog"
	"net/http"

	"e2eechat/internal/dto"
	"e2eechat/internal/keys"
	"e2eechat/internal/observability/metrics"
	obsmw "e2eechat/internal/observability/middleware"
)

func (h *Handler) upsertKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	var req dto.UpsertKeyRequest
	if err := decode(r, &req); err != nil {
		metrics.KeysUpsertedTotal.WithLabelValues("failure").Inc()
		writeError(w, r, "key upsert decode failed", err)
		return
	}
	key, outcome, err := h.keys.Upsert(r.Context(), caller.UserID, keys.UpsertInput{
		PublicKey:   req.PublicKey,
		Fingerprint: req.Fingerprint,
		DeviceLabel: req.DeviceLabel,
	})
	if err != nil {
		metrics.KeysUpsertedTotal.WithLabelValues("failure").Inc()
		writeError(w, r, "key upsert failed", err)
		return
	}
	metrics.KeysUpsertedTotal.WithLabelValues(string(outcome)).Inc()
	slog.Info("public key upserted",
		"user_id", caller.UserID,
		"key_id", key.ID,
		"device_label", key.DeviceLabel,
		"outcome", outcome,
		"request_id", obsmw.RequestIDFromContext(r.Context()),
	)

	res := keyResponse(key)
	res.Outcome = string(outcome)
	status := http.StatusOK
	if outcome != keys.OutcomeUnchanged {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *Handler) ownKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.GetOwn(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, r, "own key lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse(key))
}

func (h *Handler) userKey(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, "key lookup failed", err)
		return
	}
	key, err := h.keys.Get(r.Context(), userID, r.URL.Query().Get("device"))
	if err != nil {
		writeError(w, r, "key lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse(key))
}

func (h *Handler) keyByID(w http.ResponseWriter, r *http.Request) {
	keyID, err := pathID(r, "keyID")
	if err != nil {
		writeError(w, r, "key lookup failed", err)
		return
	}
	key, err := h.keys.GetByID(r.Context(), keyID)
	if err != nil {
		writeError(w, r, "key lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse(key))
}
