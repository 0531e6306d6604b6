package dto

import "time"

type UpsertKeyRequest struct {
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint,omitempty"`
	DeviceLabel string `json:"deviceLabel,omitempty"`
}

type PublicKeyResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	DeviceLabel string     `json:"deviceLabel"`
	PublicKey   string     `json:"publicKey"`
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   time.Time  `json:"createdAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	// Outcome is set on upsert only: created, unchanged or rotated.
	Outcome string `json:"outcome,omitempty"`
}
