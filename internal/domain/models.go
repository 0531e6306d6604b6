package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Caller is the already-authenticated principal every operation runs as.
type Caller struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
}

type UserPublicKey struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_public_keys_active,where:revoked_at IS NULL"`
	DeviceLabel string     `gorm:"type:text;not null;uniqueIndex:idx_user_public_keys_active,where:revoked_at IS NULL"`
	PublicKey   string     `gorm:"type:text;not null"`
	Fingerprint string     `gorm:"type:text;not null;index"`
	CreatedAt   time.Time  `gorm:"not null"`
	RevokedAt   *time.Time `gorm:"type:timestamptz"`
}

func (k UserPublicKey) Active() bool { return k.RevokedAt == nil }

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Conversation struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CompanyID      uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_conversations_pair,priority:1"`
	IsGroup        bool       `gorm:"not null;default:false"`
	Name           string     `gorm:"type:text"`
	PairKey        *string    `gorm:"type:text;uniqueIndex:idx_conversations_pair,priority:2"`
	CreatedBy      uuid.UUID  `gorm:"type:uuid;not null"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
	LastMessageID  *uuid.UUID `gorm:"type:uuid"`
	LastActivityAt time.Time  `gorm:"not null;index"`
}

type ConversationMember struct {
	ConversationID    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID  `gorm:"type:uuid;primaryKey;index"`
	Role              string     `gorm:"type:text;not null"`
	JoinedAt          time.Time  `gorm:"not null"`
	LeftAt            *time.Time `gorm:"type:timestamptz"`
	LastReadMessageID *uuid.UUID `gorm:"type:uuid"`
	LastReadAt        *time.Time `gorm:"type:timestamptz"`
	UnreadCount       int64      `gorm:"not null;default:0"`
	ArchivedAt        *time.Time `gorm:"type:timestamptz"`
	HiddenAt          *time.Time `gorm:"type:timestamptz"`
	ClearedAt         *time.Time `gorm:"type:timestamptz"`
}

func (m ConversationMember) Active() bool { return m.LeftAt == nil }

func (m ConversationMember) CanManage() bool {
	return m.Role == RoleOwner || m.Role == RoleAdmin
}

// KeyWrap carries a group message's content key sealed for one member.
type KeyWrap struct {
	UserID     uuid.UUID `json:"userId"`
	KeyID      uuid.UUID `json:"keyId"`
	WrappedKey string    `json:"wrappedKey"`
	Nonce      string    `json:"nonce"`
}

type Message struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index:idx_messages_conversation_created,priority:1;uniqueIndex:idx_messages_conversation_nonce,priority:1"`
	SenderID       uuid.UUID      `gorm:"type:uuid;not null"`
	Ciphertext     []byte         `gorm:"type:bytea"`
	Nonce          []byte         `gorm:"type:bytea;uniqueIndex:idx_messages_conversation_nonce,priority:2"`
	SenderKeyID    *uuid.UUID     `gorm:"type:uuid"`
	RecipientKeyID *uuid.UUID     `gorm:"type:uuid"`
	KeyWraps       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
	DeletedAt      *time.Time     `gorm:"type:timestamptz"`
}

func (m Message) Deleted() bool { return m.DeletedAt != nil }

const (
	CategoryImage    = "image"
	CategoryDocument = "document"
)

type AttachmentMeta struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index"`
	MessageID      *uuid.UUID `gorm:"type:uuid;index"`
	UploaderID     uuid.UUID  `gorm:"type:uuid;not null"`
	FileName       string     `gorm:"type:text;not null"`
	ContentType    string     `gorm:"type:text;not null"`
	Size           int64      `gorm:"not null"`
	StorageKey     string     `gorm:"type:text;not null"`
	Category       string     `gorm:"type:text;not null"`
	Width          *int
	Height         *int
	CreatedAt      time.Time `gorm:"not null;index"`
}

func (AttachmentMeta) TableName() string { return "attachments" }

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&UserPublicKey{},
		&Conversation{},
		&ConversationMember{},
		&Message{},
		&AttachmentMeta{},
	}
}
