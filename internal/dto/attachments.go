package dto

import "time"

type AttachmentResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	UploaderID     string    `json:"uploaderId"`
	FileName       string    `json:"fileName"`
	ContentType    string    `json:"contentType"`
	Size           int64     `json:"size"`
	Category       string    `json:"category"`
	Width          *int      `json:"width,omitempty"`
	Height         *int      `json:"height,omitempty"`
	URL            string    `json:"url"`
	CreatedAt      time.Time `json:"createdAt"`
}
