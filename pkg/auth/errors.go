package auth

import "errors"

var (
	errMissingCredentials = errors.New("missing credentials")
	errMissingParticipant = errors.New("backend key requires X-Participant-ID")
)
