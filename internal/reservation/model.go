package reservation

import "time"

type State string

const (
	StateLocked    State = "LOCKED"
	StateConfirmed State = "CONFIRMED"
	StateReleased  State = "RELEASED"
	StateExpired   State = "EXPIRED"
)

// Terminal reports whether a reservation can still move. Confirmed,
// Released and Expired are final.
func (s State) Terminal() bool { return s != StateLocked }

type Reservation struct {
	ID        string    `json:"id"`
	OrderNo   string    `json:"order_no"`
	SKUID     string    `json:"sku_id"`
	Quantity  int       `json:"quantity"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LockItem struct {
	SKUID    string `json:"sku_id"`
	Quantity int    `json:"quantity"`
}

type FailedItem struct {
	SKUID     string `json:"sku_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

type LockResult struct {
	OK            bool          `json:"ok"`
	AlreadyLocked bool          `json:"already_locked"` // duplicate Lock call, existing rows returned
	Reservations  []Reservation `json:"reservations,omitempty"`
	Failed        []FailedItem  `json:"failed,omitempty"`
}

type Availability struct {
	SKUID      string `json:"sku_id"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
	Sufficient bool   `json:"sufficient"`
}
