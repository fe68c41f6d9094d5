package models

import "time"

// Payment statuses. A payment row is written exactly once and never updated.
const (
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// User is a registered principal holding a balance in minor units.
type User struct {
	ID           string    `json:"id"`
	UserName     string    `json:"userName"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	PasswordHash string    `json:"-"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublicUser is the projection returned by user search.
type PublicUser struct {
	UserName string `json:"userName"`
	FullName string `json:"fullName"`
}

// Payment is the immutable record of one transfer attempt. The full-name
// snapshots are captured at transfer time so the receipt stays stable if
// either party later renames.
type Payment struct {
	ID                       string    `json:"id"`
	SenderID                 string    `json:"-"`
	ReceiverID               string    `json:"-"`
	SenderUserName           string    `json:"senderUserName"`
	ReceiverUserName         string    `json:"receiverUserName"`
	SenderFullNameSnapshot   string    `json:"senderFullNameSnapshot"`
	ReceiverFullNameSnapshot string    `json:"receiverFullNameSnapshot"`
	Amount                   int64     `json:"-"`
	AmountStr                string    `json:"amount"`
	Description              string    `json:"description,omitempty"`
	Status                   string    `json:"status"`
	CreatedAt                time.Time `json:"timestamp"`
}

// PaymentQuery narrows a payment history listing.
type PaymentQuery struct {
	UserID string
	Type   string // "sent", "received" or "" for both
	Status string // "success", "failed" or "" for both
	Sort   string // "asc" or "desc"
	Page   int
	Limit  int
}

// Pagination echoes listing position back to the client.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}
