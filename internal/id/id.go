package id

import "github.com/google/uuid"

// New returns a random job identifier. uuid.NewRandom only fails when the
// system entropy source does.
func New() string {
	u, err := uuid.NewRandom()
	if err != nil {
		return "job-fallback-id"
	}
	return u.String()
}

// Valid reports whether s looks like an identifier returned by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
