package domain

import (
	"time"
)

// Stream is a live stream's directory entry. The owner receives donations.
type Stream struct {
	PlaybackID   string    `json:"playback_id"`
	OwnerAddress string    `json:"owner_address"`
	Title        string    `json:"title"`
	Tags         []string  `json:"tags"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasOwner returns true if the stream has a well-formed owner address.
func (s *Stream) HasOwner() bool {
	return IsAddress(s.OwnerAddress)
}
