package keys

import (
	"fmt"
	"strconv"
	"time"

	"chatsync/pkg/models"
)

func GenChannelKey(channelID string) (string, error) {
	if err := models.ValidateID(channelID); err != nil {
		return "", err
	}
	return fmt.Sprintf(ChannelKey, channelID), nil
}

func GenMessageKey(channelID, messageID string) (string, error) {
	if err := models.ValidateID(channelID); err != nil {
		return "", err
	}
	if err := models.ValidateID(messageID); err != nil {
		return "", err
	}
	return fmt.Sprintf(MessageKey, channelID, messageID), nil
}

func GenMessagePrefix(channelID string) (string, error) {
	if err := models.ValidateID(channelID); err != nil {
		return "", err
	}
	return fmt.Sprintf(MessagePrefix, channelID), nil
}

func GenIndexKey(channelID string, created time.Time, messageID string) (string, error) {
	if err := models.ValidateID(channelID); err != nil {
		return "", err
	}
	if err := models.ValidateID(messageID); err != nil {
		return "", err
	}
	return fmt.Sprintf(ChannelMessageIndexKey, channelID, EncodeTS(created), messageID), nil
}

func GenIndexPrefix(channelID string) (string, error) {
	if err := models.ValidateID(channelID); err != nil {
		return "", err
	}
	return fmt.Sprintf(ChannelMessageIndexPrefix, channelID), nil
}

// EncodeTS renders created in a fixed-width form whose byte order matches
// instant order, including the zero time and dates past 2262.
func EncodeTS(created time.Time) string {
	sec := uint64(created.Unix()) ^ (1 << 63)
	return fmt.Sprintf("%0*x%0*d", TSSecWidth, sec, TSNanoWidth, created.Nanosecond())
}

// DecodeTS reverses EncodeTS. The result is in UTC.
func DecodeTS(s string) (time.Time, error) {
	if len(s) != TSWidth {
		return time.Time{}, fmt.Errorf("timestamp length invalid: %s", s)
	}
	sec, err := strconv.ParseUint(s[:TSSecWidth], 16, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp seconds invalid: %s: %w", s, err)
	}
	nsec, err := strconv.ParseUint(s[TSSecWidth:], 10, 32)
	if err != nil || nsec >= uint64(time.Second) {
		return time.Time{}, fmt.Errorf("timestamp nanos invalid: %s", s)
	}
	return time.Unix(int64(sec^(1<<63)), int64(nsec)).UTC(), nil
}

// PrefixEnd returns the smallest key greater than every key with prefix.
func PrefixEnd(prefix string) []byte {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
