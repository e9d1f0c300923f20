package types

import "time"

// Coin is the daily coin balance read after a check-in.
type Coin struct {
	Raw     string    `json:"raw"`
	Value   int       `json:"value"`
	Status  string    `json:"status"`
	Claimed bool      `json:"claimed"`
	ReadAt  time.Time `json:"read_at"`
}

// Coupon is one voucher seen on the coupon page.
type Coupon struct {
	Name    string `json:"name"`
	Terms   string `json:"terms"`
	Status  string `json:"status"`
	Claimed bool   `json:"claimed"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// SaleItem is one product on the flash-sale page.
type SaleItem struct {
	Name    string `json:"name"`
	Price   string `json:"price"`
	SoldOut bool   `json:"sold_out"`
}

// Task is one entry on the daily task page.
type Task struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}
