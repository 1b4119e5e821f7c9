package config

const (
	// MaxThreadIDLength is the maximum length for thread identifiers.
	// Thread IDs are opaque client-chosen strings; 255 fits comfortably in
	// the TEXT keys used by both stores and keeps URLs readable.
	MaxThreadIDLength = 255

	// MaxMessageLength is the maximum length for a user message.
	// Generous enough for pasted context while bounding request size.
	MaxMessageLength = 32768

	// MaxRetentionEntries caps per-thread retention overrides so a single
	// thread cannot pin an unbounded event backlog.
	MaxRetentionEntries = 100000
)
