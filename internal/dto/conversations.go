package dto

import "time"

type CreatePersonalRequest struct {
	RecipientID string `json:"recipientId"`
}

type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type AddMembersRequest struct {
	MemberIDs []string `json:"memberIds"`
}

type MemberResponse struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type ConversationResponse struct {
	ID             string           `json:"id"`
	IsGroup        bool             `json:"isGroup"`
	Name           string           `json:"name,omitempty"`
	CreatedBy      string           `json:"createdBy"`
	CreatedAt      time.Time        `json:"createdAt"`
	LastActivityAt time.Time        `json:"lastActivityAt"`
	Members        []MemberResponse `json:"members"`
	LastMessage    *MessageResponse `json:"lastMessage,omitempty"`
	UnreadCount    int64            `json:"unreadCount"`
	Role           string           `json:"role"`
	Archived       bool             `json:"archived"`
	LastReadAt     *time.Time       `json:"lastReadAt,omitempty"`
}

type UnreadResponse struct {
	Unread int64 `json:"unread"`
}
