package chatclient

import (
	"time"

	"github.com/google/uuid"
)

type KeyRecord struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"userId"`
	DeviceLabel string     `json:"deviceLabel"`
	PublicKey   string     `json:"publicKey"`
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   time.Time  `json:"createdAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
}

type Member struct {
	UserID   uuid.UUID `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Conversation struct {
	ID             uuid.UUID  `json:"id"`
	IsGroup        bool       `json:"isGroup"`
	Name           string     `json:"name,omitempty"`
	CreatedBy      uuid.UUID  `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	Members        []Member   `json:"members"`
	LastMessage    *Message   `json:"lastMessage,omitempty"`
	UnreadCount    int64      `json:"unreadCount"`
	Role           string     `json:"role"`
	Archived       bool       `json:"archived"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`
}

// Counterpart returns the other member of a personal conversation.
func (c Conversation) Counterpart(self uuid.UUID) (uuid.UUID, bool) {
	if c.IsGroup {
		return uuid.Nil, false
	}
	for _, m := range c.Members {
		if m.UserID != self {
			return m.UserID, true
		}
	}
	return uuid.Nil, false
}

type KeyWrap struct {
	UserID     uuid.UUID `json:"userId"`
	KeyID      uuid.UUID `json:"keyId"`
	WrappedKey string    `json:"wrappedKey"`
	Nonce      string    `json:"nonce"`
}

// Message is a stored envelope as returned by the server. Ciphertext and
// Nonce are empty on tombstones.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversationId"`
	SenderID       uuid.UUID  `json:"senderId"`
	Ciphertext     string     `json:"ciphertext,omitempty"`
	Nonce          string     `json:"nonce,omitempty"`
	SenderKeyID    *uuid.UUID `json:"senderKeyId,omitempty"`
	RecipientKeyID *uuid.UUID `json:"recipientKeyId,omitempty"`
	KeyWraps       []KeyWrap  `json:"keyWraps,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	Deleted        bool       `json:"deleted"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// OutgoingMessage is an encrypted envelope ready to submit.
type OutgoingMessage struct {
	Ciphertext     string      `json:"ciphertext"`
	Nonce          string      `json:"nonce"`
	SenderKeyID    *uuid.UUID  `json:"senderKeyId,omitempty"`
	RecipientKeyID *uuid.UUID  `json:"recipientKeyId,omitempty"`
	KeyWraps       []KeyWrap   `json:"keyWraps,omitempty"`
	AttachmentIDs  []uuid.UUID `json:"attachmentIds,omitempty"`
}

type Attachment struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversationId"`
	MessageID      *uuid.UUID `json:"messageId,omitempty"`
	UploaderID     uuid.UUID  `json:"uploaderId"`
	FileName       string     `json:"fileName"`
	ContentType    string     `json:"contentType"`
	Size           int64      `json:"size"`
	Category       string     `json:"category"`
	Width          *int       `json:"width,omitempty"`
	Height         *int       `json:"height,omitempty"`
	URL            string     `json:"url"`
	CreatedAt      time.Time  `json:"createdAt"`
}
