package models

import "time"

// Message is an inbound chat message as seen by the message rules.
type Message struct {
	ID              string
	ChannelID       string
	GuildID         string
	Author          Actor
	Content         string
	MentionEveryone bool
	Time            time.Time
}
