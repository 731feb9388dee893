package keys

import (
	"fmt"
	"strings"
	"time"
)

type IndexKeyParts struct {
	ChannelID string
	Created   time.Time
	MessageID string
}

func ParseChannelKey(key string) (string, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 || parts[0] != "c" || parts[1] == "" {
		return "", fmt.Errorf("invalid channel key: %s", key)
	}
	return parts[1], nil
}

func ParseMessageKey(key string) (channelID, messageID string, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "m" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid message key: %s", key)
	}
	return parts[1], parts[2], nil
}

func ParseIndexKey(key string) (*IndexKeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 6 || parts[0] != "idx" || parts[1] != "c" || parts[3] != "m" {
		return nil, fmt.Errorf("invalid index key: %s", key)
	}
	created, err := DecodeTS(parts[4])
	if err != nil {
		return nil, fmt.Errorf("invalid index key timestamp: %s: %w", key, err)
	}
	if parts[2] == "" || parts[5] == "" {
		return nil, fmt.Errorf("invalid index key: %s", key)
	}
	return &IndexKeyParts{
		ChannelID: parts[2],
		Created:   created,
		MessageID: parts[5],
	}, nil
}
