package models

import (
	"sort"
	"time"
)

type Channel struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	LastMessage  *string    `json:"lastMessage,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// ApplyLatest sets LastMessage/LastActivity from the newest message in msgs,
// or clears them when msgs is empty.
func ApplyLatest(ch Channel, msgs []Message) Channel {
	top, ok := Latest(msgs)
	if !ok {
		ch.LastMessage = nil
		ch.LastActivity = nil
		return ch
	}
	content := top.Content
	created := top.Created
	ch.LastMessage = &content
	ch.LastActivity = &created
	return ch
}

// SameLatest reports whether two channels carry the same aggregate fields.
func SameLatest(a, b Channel) bool {
	switch {
	case (a.LastMessage == nil) != (b.LastMessage == nil):
		return false
	case (a.LastActivity == nil) != (b.LastActivity == nil):
		return false
	}
	if a.LastMessage != nil && *a.LastMessage != *b.LastMessage {
		return false
	}
	if a.LastActivity != nil && !a.LastActivity.Equal(*b.LastActivity) {
		return false
	}
	return true
}

// SortChannels orders by last activity descending, channels without activity
// last, ties by id ascending.
func SortChannels(chs []Channel) {
	sort.SliceStable(chs, func(i, j int) bool {
		a, b := chs[i], chs[j]
		switch {
		case a.LastActivity == nil && b.LastActivity == nil:
			return a.ID < b.ID
		case a.LastActivity == nil:
			return false
		case b.LastActivity == nil:
			return true
		case !a.LastActivity.Equal(*b.LastActivity):
			return a.LastActivity.After(*b.LastActivity)
		default:
			return a.ID < b.ID
		}
	})
}
