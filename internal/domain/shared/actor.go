package shared

import "github.com/google/uuid"

// Actor identifies who triggered a mutation. It is passed explicitly with
// every command instead of being read from request-global state.
type Actor struct {
	UserID        *uuid.UUID
	Email         string
	Name          string
	IPAddress     string
	UserAgent     string
	RequestPath   string
	RequestMethod string
}

// SystemActor is used for mutations started by background jobs.
func SystemActor(name string) Actor {
	return Actor{Name: name}
}

// IsSystem reports whether no user is attached to the actor.
func (a Actor) IsSystem() bool {
	return a.UserID == nil
}
