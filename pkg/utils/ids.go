package utils

import "github.com/google/uuid"

// GenSessionID returns a new unique session identifier.
func GenSessionID() string { return uuid.NewString() }
