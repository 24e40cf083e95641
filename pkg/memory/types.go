package memory

// Role identifies who authored a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation history.
type Turn struct {
	Role    Role
	Content string
}

// Stats is a point-in-time snapshot of the manager's size.
type Stats struct {
	Users int
	Turns int
}
