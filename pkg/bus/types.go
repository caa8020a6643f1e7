package bus

// InboundMessage is a user message arriving from a chat channel.
type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   string
	Content  string
}

// OutboundMessage is a companion reply heading back to a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
