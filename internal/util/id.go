package util

import "github.com/google/uuid"

func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether value parses as a UUID.
func ValidID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
