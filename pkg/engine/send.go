package engine

import (
	"context"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

// SendResult is delivered by SendAsync.
type SendResult struct {
	Message models.Message
	Err     error
}

// Send appends a message on the remote log. Nothing is written locally: the
// message reaches the cache through the channel's subscription. Failures are
// returned as *SendError and never retried.
func (e *Engine) Send(ctx context.Context, channelID, content, senderID, senderName string) (models.Message, error) {
	if err := models.ValidateID(channelID); err != nil {
		return models.Message{}, &SendError{ChannelID: channelID, Reason: err}
	}
	if err := models.ValidateContent(content); err != nil {
		return models.Message{}, &SendError{ChannelID: channelID, Reason: err}
	}
	msg, err := e.remote.AppendMessage(ctx, channelID, content, senderID, senderName)
	if err != nil {
		metrics.SendFailures.Inc()
		logger.Warn("engine_send_failed", "channel", channelID, "sender", senderID, "error", err)
		return models.Message{}, &SendError{ChannelID: channelID, Reason: err}
	}
	logger.Debug("engine_message_sent", "channel", channelID, "id", msg.ID)
	return msg, nil
}

// SendAsync runs Send on its own goroutine. The channel receives exactly one
// result and is then closed.
func (e *Engine) SendAsync(ctx context.Context, channelID, content, senderID, senderName string) <-chan SendResult {
	out := make(chan SendResult, 1)
	go func() {
		msg, err := e.Send(ctx, channelID, content, senderID, senderName)
		out <- SendResult{Message: msg, Err: err}
		close(out)
	}()
	return out
}
