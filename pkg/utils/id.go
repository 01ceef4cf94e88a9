package utils

import "github.com/google/uuid"

// NewUUID7 returns a time-ordered id as a string.
func NewUUID7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}
