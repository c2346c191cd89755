package model

import "errors"

// ErrPersistence marks a failure of the durable session medium. It is always
// absorbed by the auth layer and never shown to the user.
var ErrPersistence = errors.New("session persistence failed")
