package memory

// PersonaResolver renders the system prompt for a user. Implementations must
// be pure functions of their arguments.
type PersonaResolver interface {
	SystemPrompt(userID, displayName string) (string, error)
}

// PersonaFunc adapts a plain function to PersonaResolver.
type PersonaFunc func(userID, displayName string) (string, error)

func (f PersonaFunc) SystemPrompt(userID, displayName string) (string, error) {
	return f(userID, displayName)
}
