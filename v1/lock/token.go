package lock

import "github.com/google/uuid"

// Token proves ownership of a single acquisition. It is the exact value
// written under the lock key and is never reused.
type Token string

func (t Token) String() string { return string(t) }

func newToken() Token {
	return Token(uuid.NewString())
}
