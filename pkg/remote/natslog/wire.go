// Package natslog carries a remote.Log over NATS. A Server hosts any
// remote.Log behind request/reply subjects and publishes its snapshots; a
// Client is a remote.Log that talks to it.
package natslog

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatsync/pkg/models"
	"chatsync/pkg/remote"
)

const DefaultPrefix = "chatsync"

type subjects struct {
	prefix string
}

func (s subjects) rpc(op string) string { return s.prefix + ".rpc." + op }
func (s subjects) snapChannels() string { return s.prefix + ".snap.channels" }
func (s subjects) snapMessages(id string) string { return s.prefix + ".snap.messages." + id }

const (
	opCreateChannel    = "create_channel"
	opAppendMessage    = "append_message"
	opDeleteChannel    = "delete_channel"
	opSnapshotChannels = "snapshot.channels"
	opSnapshotMessages = "snapshot.messages"
)

type request struct {
	Name       string `json:"name,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`
	Content    string `json:"content,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}

type reply struct {
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// snapshot is stamped with the server instance and a sequence so clients can
// discard a reply older than a snapshot they already applied.
type snapshot[T any] struct {
	Epoch string `json:"epoch"`
	Seq   uint64 `json:"seq"`
	Items []T    `json:"items"`
}

type (
	channelSnapshot = snapshot[models.Channel]
	messageSnapshot = snapshot[models.Message]
)

const (
	codeUnavailable = "unavailable"
	codeInvalidName = "invalid_name"
	codeNotFound    = "not_found"
	codeBadRequest  = "bad_request"
	codeInternal    = "internal"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, remote.ErrRemoteUnavailable):
		return codeUnavailable
	case errors.Is(err, remote.ErrInvalidName):
		return codeInvalidName
	case errors.Is(err, remote.ErrChannelNotFound):
		return codeNotFound
	case errors.Is(err, models.ErrInvalidID), errors.Is(err, models.ErrInvalidContent):
		return codeBadRequest
	default:
		return codeInternal
	}
}

// decodeError rebuilds a sentinel-matching error from a reply.
func decodeError(r reply) error {
	if r.Code == "" && r.Error == "" {
		return nil
	}
	switch r.Code {
	case codeUnavailable:
		return fmt.Errorf("%w: %s", remote.ErrRemoteUnavailable, r.Error)
	case codeInvalidName:
		return remote.ErrInvalidName
	case codeNotFound:
		return fmt.Errorf("%w: %s", remote.ErrChannelNotFound, r.Error)
	default:
		return fmt.Errorf("natslog: %s", r.Error)
	}
}
