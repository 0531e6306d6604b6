package dto

import "time"

type KeyWrap struct {
	UserID     string `json:"userId"`
	KeyID      string `json:"keyId"`
	WrappedKey string `json:"wrappedKey"`
	Nonce      string `json:"nonce"`
}

// SendMessageRequest carries an already encrypted envelope. Ciphertext and
// nonce are standard base64.
type SendMessageRequest struct {
	Ciphertext     string    `json:"ciphertext"`
	Nonce          string    `json:"nonce"`
	SenderKeyID    string    `json:"senderKeyId,omitempty"`
	RecipientKeyID string    `json:"recipientKeyId,omitempty"`
	KeyWraps       []KeyWrap `json:"keyWraps,omitempty"`
	AttachmentIDs  []string  `json:"attachmentIds,omitempty"`
}

type MessageResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Ciphertext     string     `json:"ciphertext,omitempty"`
	Nonce          string     `json:"nonce,omitempty"`
	SenderKeyID    string     `json:"senderKeyId,omitempty"`
	RecipientKeyID string     `json:"recipientKeyId,omitempty"`
	KeyWraps       []KeyWrap  `json:"keyWraps,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	Deleted        bool       `json:"deleted"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

type MessagePage struct {
	Messages []MessageResponse `json:"messages"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}
