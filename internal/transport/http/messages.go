package http

import (
	"log/slog"
	"net/http"

	"e2eechat/internal/dto"
	"e2eechat/internal/messages"
	"e2eechat/internal/observability/metrics"
	obsmw "e2eechat/internal/observability/middleware"
)

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		metrics.MessageHistoryFetchedTotal.WithLabelValues("failure").Inc()
		writeError(w, r, "history fetch failed", err)
		return
	}
	limit, err := queryInt(r, "limit", messages.DefaultPageSize)
	if err != nil {
		metrics.MessageHistoryFetchedTotal.WithLabelValues("failure").Inc()
		writeError(w, r, "history fetch failed", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		metrics.MessageHistoryFetchedTotal.WithLabelValues("failure").Inc()
		writeError(w, r, "history fetch failed", err)
		return
	}
	msgs, err := h.msgs.List(r.Context(), callerFrom(r), id, limit, offset)
	if err != nil {
		metrics.MessageHistoryFetchedTotal.WithLabelValues("failure").Inc()
		writeError(w, r, "history fetch failed", err)
		return
	}
	page := dto.MessagePage{Messages: make([]dto.MessageResponse, 0, len(msgs)), Limit: limit, Offset: offset}
	for _, m := range msgs {
		res, err := messageResponse(m)
		if err != nil {
			metrics.MessageHistoryFetchedTotal.WithLabelValues("failure").Inc()
			writeError(w, r, "history encode failed", err)
			return
		}
		page.Messages = append(page.Messages, res)
	}
	metrics.MessageHistoryFetchedTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "send message failed", err)
		return
	}
	var req dto.SendMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "send message failed", err)
		return
	}
	in, err := sendInput(id, req)
	if err != nil {
		writeError(w, r, "send message failed", err)
		return
	}
	msg, err := h.msgs.Send(r.Context(), callerFrom(r), in)
	if err != nil {
		writeError(w, r, "send message failed", err)
		return
	}
	res, err := messageResponse(msg)
	if err != nil {
		writeError(w, r, "send message encode failed", err)
		return
	}
	slog.Info("message stored",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"attachments", len(in.AttachmentIDs),
		"request_id", obsmw.RequestIDFromContext(r.Context()),
	)
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "delete message failed", err)
		return
	}
	if err := h.msgs.Delete(r.Context(), callerFrom(r), id); err != nil {
		writeError(w, r, "delete message failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
