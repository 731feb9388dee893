package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrInvalidID      = errors.New("invalid id")
	ErrInvalidName    = errors.New("invalid channel name")
	ErrInvalidContent = errors.New("invalid message content")
)

// ValidateID rejects ids that cannot be embedded in a storage key (":") or
// a NATS subject token (".", "*", ">", whitespace, control characters).
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.IndexFunc(id, reservedIDRune) >= 0 {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidID, id)
	}
	return nil
}

func reservedIDRune(r rune) bool {
	switch r {
	case ':', '.', '*', '>':
		return true
	}
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

func ValidateChannelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}

func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrInvalidContent
	}
	return nil
}
