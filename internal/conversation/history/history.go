// Package history holds the per-sender conversation record.
package history

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// History is one sender's conversation. Turns are kept in arrival order.
type History struct {
	Sender      string    `json:"sender"`
	DisplayName string    `json:"display_name,omitempty"`
	Turns       []Turn    `json:"turns"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func New(sender string) *History {
	return &History{Sender: sender}
}

func (h *History) Append(role Role, text string, at time.Time) {
	h.Turns = append(h.Turns, Turn{Role: role, Text: text, At: at})
	h.UpdatedAt = at
}

// Clone returns a deep copy safe to hand to another goroutine.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	c := *h
	c.Turns = append([]Turn(nil), h.Turns...)
	return &c
}

// Window returns a copy of the last k turns in order. k <= 0 yields nothing.
func Window(turns []Turn, k int) []Turn {
	if k <= 0 || len(turns) == 0 {
		return nil
	}
	start := max(len(turns)-k, 0)
	return append([]Turn(nil), turns[start:]...)
}
