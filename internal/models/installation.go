package models

import "time"

// Installation is the last reported version of one user's installation within a scope.
type Installation struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId"`
	ExtensionID *string   `db:"extension_id" json:"extensionId,omitempty"`
	ProductID   *string   `db:"product_id" json:"productId,omitempty"`
	Version     string    `db:"version" json:"version"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"lastSeenAt"`
}
