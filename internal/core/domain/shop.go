package domain

import "time"

// Shop is read-heavy catalog data served through the cache layer.
type Shop struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	AvgPrice  int       `json:"avg_price"`
	UpdatedAt time.Time `json:"updated_at"`
}
