package mongolog

import (
	"time"

	"chatsync/pkg/models"
)

type channelDoc struct {
	ID           string     `bson:"_id"`
	Name         string     `bson:"name"`
	LastMessage  *string    `bson:"lastMessage,omitempty"`
	LastActivity *time.Time `bson:"lastActivity,omitempty"`
	Created      time.Time  `bson:"created"`
}

func (d channelDoc) model() models.Channel {
	ch := models.Channel{ID: d.ID, Name: d.Name, LastMessage: d.LastMessage}
	if d.LastActivity != nil {
		t := d.LastActivity.UTC()
		ch.LastActivity = &t
	}
	return ch
}

type messageDoc struct {
	ID         string    `bson:"_id"`
	ChannelID  string    `bson:"channelId"`
	Content    string    `bson:"content"`
	Created    time.Time `bson:"created"`
	SenderID   string    `bson:"senderId"`
	SenderName string    `bson:"senderName"`
}

func (d messageDoc) model() models.Message {
	return models.Message{
		ID:         d.ID,
		ChannelID:  d.ChannelID,
		Content:    d.Content,
		Created:    d.Created.UTC(),
		SenderID:   d.SenderID,
		SenderName: d.SenderName,
	}
}
