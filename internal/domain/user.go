// Package domain contains core domain types for the TradeFlow application.
package domain

import (
	"time"
)

// User represents a registered account.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
