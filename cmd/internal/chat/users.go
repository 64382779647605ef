package chat

import (
	"context"
	"strings"
	"sync"
)

// UserDirectory resolves account ids. It is the chat package's only view of user accounts.
type UserDirectory interface {
	// LookupUser returns the user or an error wrapping ErrNotFound.
	LookupUser(ctx context.Context, id string) (User, error)
}

// InMemoryDirectory is a dev/test UserDirectory.
type InMemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewInMemoryDirectory constructs a directory seeded with users.
func NewInMemoryDirectory(users ...User) *InMemoryDirectory {
	d := &InMemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user. Empty ids are ignored.
func (d *InMemoryDirectory) Put(u User) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return
	}
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// LookupUser implements UserDirectory.
func (d *InMemoryDirectory) LookupUser(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	d.mu.RLock()
	u, ok := d.users[id]
	d.mu.RUnlock()
	if !ok {
		return User{}, notFound("chat.LookupUser", "user not found")
	}
	return u, nil
}

// ParseUserList parses "uid:Display Name,uid2,uid3:Other" into users.
// Entries without a name use the id as display name.
func ParseUserList(raw string) []User {
	var out []User
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, _ := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = id
		}
		out = append(out, User{ID: id, DisplayName: name})
	}
	return out
}

func displayNameOr(name, email, id string) string {
	if s := strings.TrimSpace(name); s != "" {
		return s
	}
	if s := strings.TrimSpace(email); s != "" {
		return s
	}
	return id
}
