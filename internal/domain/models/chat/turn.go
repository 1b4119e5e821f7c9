package chat

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one finalized message in a conversation thread. Turns are written
// exactly once, when fully resolved (all tokens assembled, nothing pending),
// and are immutable afterwards. The conversation store is authoritative for
// turn content: it is never re-derived from the event backlog.
type Turn struct {
	ID        string    `json:"turn_id"`
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}
