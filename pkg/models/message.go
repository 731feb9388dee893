package models

import (
	"sort"
	"time"
)

// Message is an immutable chat message. ID and Created are assigned by the
// remote log on append.
type Message struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channelId"`
	Content    string    `json:"content"`
	Created    time.Time `json:"created"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
}

// Equal compares every field; Created is compared with time.Equal.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.ChannelID == o.ChannelID &&
		m.Content == o.Content &&
		m.Created.Equal(o.Created) &&
		m.SenderID == o.SenderID &&
		m.SenderName == o.SenderName
}

// Less orders by (created, id) ascending.
func Less(a, b Message) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.Before(b.Created)
	}
	return a.ID < b.ID
}

func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return Less(msgs[i], msgs[j]) })
}

// MergeMessages unions incoming into existing by id and returns the sorted
// result. A colliding id is replaced only when the record differs. added
// counts ids not present in existing; changed counts replaced records.
func MergeMessages(existing, incoming []Message) (merged []Message, added, changed int) {
	byID := make(map[string]int, len(existing)+len(incoming))
	merged = make([]Message, 0, len(existing)+len(incoming))
	for _, m := range existing {
		if i, ok := byID[m.ID]; ok {
			merged[i] = m
			continue
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range incoming {
		i, ok := byID[m.ID]
		if !ok {
			byID[m.ID] = len(merged)
			merged = append(merged, m)
			added++
			continue
		}
		if !merged[i].Equal(m) {
			merged[i] = m
			changed++
		}
	}
	SortMessages(merged)
	return merged, added, changed
}

// Latest returns the message with the greatest (created, id).
func Latest(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	top := msgs[0]
	for _, m := range msgs[1:] {
		if Less(top, m) {
			top = m
		}
	}
	return top, true
}
