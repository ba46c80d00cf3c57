package phone

import "errors"

// ErrInvalid is returned when a non-empty value is not an international phone number.
var ErrInvalid = errors.New("invalid phone number")

// Message is the field error shown to users for ErrInvalid.
const Message = "Enter a valid phone number (e.g. +12125552368)."
