package chat

import "time"

// Config holds the chat policy knobs.
type Config struct {
	// EditWindow bounds how long after creation a sender may edit a message.
	EditWindow time.Duration

	// ReadWindow is how many of the most recent messages MarkRead considers.
	ReadWindow int

	// DefaultPageSize is used when a list request does not specify a limit.
	DefaultPageSize int
	// MaxPageSize is the largest accepted list limit.
	MaxPageSize int

	// MaxContentChars caps message content length (runes).
	MaxContentChars int
}

// DefaultConfig returns the production chat policy.
func DefaultConfig() Config {
	return Config{
		EditWindow:      15 * time.Minute,
		ReadWindow:      50,
		DefaultPageSize: 50,
		MaxPageSize:     100,
		MaxContentChars: 4000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.EditWindow <= 0 {
		c.EditWindow = def.EditWindow
	}
	if c.ReadWindow <= 0 {
		c.ReadWindow = def.ReadWindow
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = def.MaxPageSize
	}
	if c.DefaultPageSize <= 0 || c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = min(def.DefaultPageSize, c.MaxPageSize)
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = def.MaxContentChars
	}
	return c
}
