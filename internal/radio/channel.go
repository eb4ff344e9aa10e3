package radio

import (
	"strings"

	"github.com/google/uuid"
)

// Channel identifies a live stream. Treat it as immutable once handed to the
// engine; switch channels by passing a new value.
type Channel struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// NewChannel returns a channel with a fresh random id.
func NewChannel(title, url string) *Channel {
	return &Channel{ID: uuid.NewString(), Title: strings.TrimSpace(title), URL: strings.TrimSpace(url)}
}

// Playable reports whether the channel carries a non-blank URL.
func (c *Channel) Playable() bool {
	return c != nil && strings.TrimSpace(c.URL) != ""
}

// DisplayName is the title, falling back to the URL.
func (c *Channel) DisplayName() string {
	if c == nil {
		return ""
	}
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	return strings.TrimSpace(c.URL)
}
