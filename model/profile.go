package model

import (
	"strings"
	"time"
)

// UserProfile holds the user's name and the key insights the agent has
// inferred or the user has edited. Shared across sessions; saves are
// last-write-wins at turn granularity, applied atomically by the store.
type UserProfile struct {
	Name      string    `json:"name" bson:"name"`
	KeyPoints []string  `json:"key_points" bson:"key_points"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// AddKeyPoint appends an insight unless an equivalent one is already
// recorded. Returns true if the profile changed.
func (p *UserProfile) AddKeyPoint(point string) bool {
	point = strings.TrimSpace(point)
	if point == "" {
		return false
	}
	for _, existing := range p.KeyPoints {
		if strings.EqualFold(existing, point) {
			return false
		}
	}
	p.KeyPoints = append(p.KeyPoints, point)
	return true
}
