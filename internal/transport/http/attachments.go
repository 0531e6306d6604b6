package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"e2eechat/internal/attachments"
	"e2eechat/internal/domain"
	"e2eechat/internal/dto"
	"e2eechat/internal/observability/metrics"
	obsmw "e2eechat/internal/observability/middleware"
)

const multipartMemory = 32 << 20

func (h *Handler) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "upload failed", err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, "upload failed", fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidInput, h.maxUpload))
			return
		}
		writeError(w, r, "upload failed", fmt.Errorf("%w: invalid multipart form", domain.ErrInvalidInput))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, "upload failed", fmt.Errorf("%w: file is required", domain.ErrInvalidInput))
		return
	}
	defer file.Close()

	v, err := h.attachments.Upload(r.Context(), callerFrom(r), id, attachments.UploadInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		writeError(w, r, "upload failed", err)
		return
	}
	metrics.AttachmentsUploadedTotal.WithLabelValues(v.Meta.Category).Inc()
	slog.Info("attachment uploaded",
		"attachment_id", v.Meta.ID,
		"conversation_id", v.Meta.ConversationID,
		"size", v.Meta.Size,
		"category", v.Meta.Category,
		"request_id", obsmw.RequestIDFromContext(r.Context()),
	)
	writeJSON(w, http.StatusCreated, attachmentResponse(v))
}

func (h *Handler) getAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "attachment lookup failed", err)
		return
	}
	v, err := h.attachments.Get(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, r, "attachment lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, attachmentResponse(v))
}

func (h *Handler) attachmentBatch(w http.ResponseWriter, r *http.Request) {
	raw := strings.Split(r.URL.Query().Get("ids"), ",")
	var ids []string
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			ids = append(ids, v)
		}
	}
	if len(ids) == 0 {
		writeError(w, r, "attachment batch failed", fmt.Errorf("%w: ids is required", domain.ErrInvalidInput))
		return
	}
	parsed, err := parseIDs(ids, "ids")
	if err != nil {
		writeError(w, r, "attachment batch failed", err)
		return
	}
	views, err := h.attachments.GetBatch(r.Context(), callerFrom(r), parsed)
	if err != nil {
		writeError(w, r, "attachment batch failed", err)
		return
	}
	out := make([]dto.AttachmentResponse, 0, len(views))
	for _, v := range views {
		out = append(out, attachmentResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) attachmentContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, "attachment download failed", err)
		return
	}
	body, meta, err := h.attachments.Open(r.Context(), callerFrom(r), id)
	if err != nil {
		writeError(w, r, "attachment download failed", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.FileName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("attachment stream interrupted", "error", err, "attachment_id", meta.ID)
	}
}
