package domain

import "time"

// Secret stores one encrypted environment value for a project channel.
// Plaintext is never persisted; the nonce is kept next to the ciphertext.
type Secret struct {
	ID         string
	ProjectID  string
	Label      string
	Channel    string
	Nonce      []byte
	Ciphertext []byte
	CreatedAt  time.Time
}

// ProjectKey is the per-project symmetric key, generated lazily on the first
// secret write and never rotated.
type ProjectKey struct {
	ProjectID string
	Key       []byte
	CreatedAt time.Time
}
