package realtime

import "github.com/google/uuid"

// NewConnID returns a random id for one live connection.
// Connection ids are never persisted; they only key the in-memory registry and logs.
func NewConnID() string {
	return uuid.NewString()
}
