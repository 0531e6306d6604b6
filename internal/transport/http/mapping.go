package http

import (
	"encoding/base64"
	"fmt"

	"e2eechat/internal/attachments"
	"e2eechat/internal/conversations"
	"e2eechat/internal/domain"
	"e2eechat/internal/dto"
	"e2eechat/internal/messages"

	"github.com/google/uuid"
)

func keyResponse(k domain.UserPublicKey) dto.PublicKeyResponse {
	return dto.PublicKeyResponse{
		ID:          k.ID.String(),
		UserID:      k.UserID.String(),
		DeviceLabel: k.DeviceLabel,
		PublicKey:   k.PublicKey,
		Fingerprint: k.Fingerprint,
		CreatedAt:   k.CreatedAt,
		RevokedAt:   k.RevokedAt,
	}
}

func conversationResponse(v conversations.View) (dto.ConversationResponse, error) {
	out := dto.ConversationResponse{
		ID:             v.Conversation.ID.String(),
		IsGroup:        v.Conversation.IsGroup,
		Name:           v.Conversation.Name,
		CreatedBy:      v.Conversation.CreatedBy.String(),
		CreatedAt:      v.Conversation.CreatedAt,
		LastActivityAt: v.Conversation.LastActivityAt,
		Members:        make([]dto.MemberResponse, 0, len(v.Members)),
		UnreadCount:    v.Self.UnreadCount,
		Role:           v.Self.Role,
		Archived:       v.Self.ArchivedAt != nil,
		LastReadAt:     v.Self.LastReadAt,
	}
	for _, m := range v.Members {
		out.Members = append(out.Members, dto.MemberResponse{
			UserID:   m.UserID.String(),
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		})
	}
	if v.LastMessage != nil {
		last, err := messageResponse(*v.LastMessage)
		if err != nil {
			return dto.ConversationResponse{}, err
		}
		out.LastMessage = &last
	}
	return out, nil
}

func messageResponse(m domain.Message) (dto.MessageResponse, error) {
	out := dto.MessageResponse{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		CreatedAt:      m.CreatedAt,
		Deleted:        m.Deleted(),
		DeletedAt:      m.DeletedAt,
	}
	if m.Deleted() {
		return out, nil
	}
	out.Ciphertext = base64.StdEncoding.EncodeToString(m.Ciphertext)
	out.Nonce = base64.StdEncoding.EncodeToString(m.Nonce)
	out.SenderKeyID = idString(m.SenderKeyID)
	out.RecipientKeyID = idString(m.RecipientKeyID)
	wraps, err := messages.DecodeWraps(m.KeyWraps)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	for _, w := range wraps {
		out.KeyWraps = append(out.KeyWraps, dto.KeyWrap{
			UserID:     w.UserID.String(),
			KeyID:      w.KeyID.String(),
			WrappedKey: w.WrappedKey,
			Nonce:      w.Nonce,
		})
	}
	return out, nil
}

func sendInput(conversationID uuid.UUID, req dto.SendMessageRequest) (messages.SendInput, error) {
	ct, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		return messages.SendInput{}, fmt.Errorf("%w: ciphertext is not base64", domain.ErrInvalidInput)
	}
	nonce, err := base64.StdEncoding.DecodeString(req.Nonce)
	if err != nil {
		return messages.SendInput{}, fmt.Errorf("%w: nonce is not base64", domain.ErrInvalidInput)
	}
	in := messages.SendInput{ConversationID: conversationID, Ciphertext: ct, Nonce: nonce}
	if in.SenderKeyID, err = optionalID(req.SenderKeyID, "senderKeyId"); err != nil {
		return messages.SendInput{}, err
	}
	if in.RecipientKeyID, err = optionalID(req.RecipientKeyID, "recipientKeyId"); err != nil {
		return messages.SendInput{}, err
	}
	if in.AttachmentIDs, err = parseIDs(req.AttachmentIDs, "attachmentIds"); err != nil {
		return messages.SendInput{}, err
	}
	for _, w := range req.KeyWraps {
		userID, err := parseID(w.UserID, "keyWraps.userId")
		if err != nil {
			return messages.SendInput{}, err
		}
		keyID, err := parseID(w.KeyID, "keyWraps.keyId")
		if err != nil {
			return messages.SendInput{}, err
		}
		in.KeyWraps = append(in.KeyWraps, domain.KeyWrap{
			UserID:     userID,
			KeyID:      keyID,
			WrappedKey: w.WrappedKey,
			Nonce:      w.Nonce,
		})
	}
	return in, nil
}

func attachmentResponse(v attachments.View) dto.AttachmentResponse {
	return dto.AttachmentResponse{
		ID:             v.Meta.ID.String(),
		ConversationID: v.Meta.ConversationID.String(),
		MessageID:      idString(v.Meta.MessageID),
		UploaderID:     v.Meta.UploaderID.String(),
		FileName:       v.Meta.FileName,
		ContentType:    v.Meta.ContentType,
		Size:           v.Meta.Size,
		Category:       v.Meta.Category,
		Width:          v.Meta.Width,
		Height:         v.Meta.Height,
		URL:            v.URL,
		CreatedAt:      v.Meta.CreatedAt,
	}
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
