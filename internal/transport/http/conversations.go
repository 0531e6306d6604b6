package http

import (
	"context"
	"net/http"
	"strconv"

	"e2eechat/internal/conversations"
	"e2eechat/internal/domain"
	"e2eechat/internal/dto"

	"github.com/google/uuid"
)

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, err := conversations.ParseType(q.Get("type"))
	if err != nil {
		writeError(w, r, "list conversations failed", err)
		return
	}
	archived := false
	if v := q.Get("archived"); v != "" {
		if archived, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, "list conversations failed", domain.ErrInvalidInput)
			return
		}
	}
	views, err := h.convs.List(r.Context(), callerFrom(r), conversations.ListOptions{Type: typ, Archived: archived})
	if err != nil {
		writeError(w, r, "list conversations failed", err)
		return
	}
	out := make([]dto.ConversationResponse, 0, len(views))
	for _, v := range views {
		res, err := conversationResponse(v)
		if err != nil {
			writeError(w, r, "list conversations failed", err)
			return
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) openPersonal(w http.ResponseWriter, r *http.Request) {
	var req dto.CreatePersonalRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "open personal conversation failed", err)
		return
	}
	recipient, err := parseID(req.RecipientID, "recipientId")
	if err != nil {
		writeError(w, r, "open personal conversation failed", err)
		return
	}
	v, err := h.convs.GetOrCreatePersonal(r.Context(), callerFrom(r), recipient)
	h.respondView(w, r, http.StatusOK, v, err)
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateGroupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "create group failed", err)
		return
	}
	members, err := parseIDs(req.MemberIDs, "memberIds")
	if err != nil {
		writeError(w, r, "create group failed", err)
		return
	}
	v, err := h.convs.CreateGroup(r.Context(), callerFrom(r), req.Name, members)
	h.respondView(w, r, http.StatusCreated, v, err)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "get conversation failed", err)
		return
	}
	v, err := h.convs.Get(r.Context(), callerFrom(r), id)
	h.respondView(w, r, http.StatusOK, v, err)
}

func (h *Handler) renameConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "rename conversation failed", err)
		return
	}
	var req dto.RenameRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "rename conversation failed", err)
		return
	}
	caller := callerFrom(r)
	if err := h.convs.Rename(r.Context(), caller, id, req.Name); err != nil {
		writeError(w, r, "rename conversation failed", err)
		return
	}
	v, err := h.convs.Get(r.Context(), caller, id)
	h.respondView(w, r, http.StatusOK, v, err)
}

func (h *Handler) addMembers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "add members failed", err)
		return
	}
	var req dto.AddMembersRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, "add members failed", err)
		return
	}
	members, err := parseIDs(req.MemberIDs, "memberIds")
	if err != nil {
		writeError(w, r, "add members failed", err)
		return
	}
	v, err := h.convs.AddMembers(r.Context(), callerFrom(r), id, members)
	h.respondView(w, r, http.StatusOK, v, err)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "remove member failed", err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, "remove member failed", err)
		return
	}
	if err := h.convs.RemoveMember(r.Context(), callerFrom(r), id, userID); err != nil {
		writeError(w, r, "remove member failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) leaveConversation(w http.ResponseWriter, r *http.Request) {
	h.conversationAction(w, r, "leave conversation failed", h.convs.Leave)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	h.conversationAction(w, r, "mark read failed", h.convs.MarkRead)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	h.conversationAction(w, r, "archive failed", h.convs.Archive)
}

func (h *Handler) unarchive(w http.ResponseWriter, r *http.Request) {
	h.conversationAction(w, r, "unarchive failed", h.convs.Unarchive)
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	h.conversationAction(w, r, "delete conversation failed", h.convs.Delete)
}

func (h *Handler) clearConversation(w http.ResponseWriter, r *http.Request) {
	h.conversationAction(w, r, "clear conversation failed", h.msgs.Clear)
}

func (h *Handler) unread(w http.ResponseWriter, r *http.Request) {
	n, err := h.convs.UnreadCount(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, r, "unread count failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UnreadResponse{Unread: n})
}

type conversationOp func(ctx context.Context, caller domain.Caller, id uuid.UUID) error

func (h *Handler) conversationAction(w http.ResponseWriter, r *http.Request, msg string, op conversationOp) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, msg, err)
		return
	}
	if err := op(r.Context(), callerFrom(r), id); err != nil {
		writeError(w, r, msg, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondView(w http.ResponseWriter, r *http.Request, status int, v conversations.View, err error) {
	if err != nil {
		writeError(w, r, "conversation request failed", err)
		return
	}
	res, err := conversationResponse(v)
	if err != nil {
		writeError(w, r, "conversation encode failed", err)
		return
	}
	writeJSON(w, status, res)
}
