package protocol

// InboundKind classifies a normalized InboundEvent.
type InboundKind string

const (
	KindC2C   InboundKind = "c2c"
	KindDM    InboundKind = "dm"
	KindGuild InboundKind = "guild"
	KindGroup InboundKind = "group"
)

// Attachment describes a single media attachment on an inbound message.
type Attachment struct {
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
}

// InboundEvent is the normalized shape every supported dispatch event is
// translated to before it reaches the InboundQueue. Parsing into this
// type happens once, at the WebSocket boundary (Design Notes item 5).
type InboundEvent struct {
	Kind        InboundKind
	AccountID   string
	SenderID    string
	SenderName  string
	Content     string
	MessageID   string
	Timestamp   int64
	ChannelID   string
	GuildID     string
	GroupOpenid string
	Attachments []Attachment
}

// rawMessage (with rawAuthor and rawAttachment) mirrors, for every message
// event type, the subset of the platform's dispatch payloads this
// connector reads.
// Unknown fields are ignored by design — the gateway only needs enough
// to build an InboundEvent and never round-trips these structs back out.
type rawAuthor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	UnionOpenid string `json:"union_openid"`
}

type rawAttachment struct {
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
}

type rawMessage struct {
	ID          string          `json:"id"`
	Content     string          `json:"content"`
	Timestamp   string          `json:"timestamp"`
	Author      rawAuthor       `json:"author"`
	GroupOpenid string          `json:"group_openid"`
	GroupID     string          `json:"group_id"`
	ChannelID   string          `json:"channel_id"`
	GuildID     string          `json:"guild_id"`
	SrcGuildID  string          `json:"src_guild_id"`
	Attachments []rawAttachment `json:"attachments"`
}

func toAttachments(in []rawAttachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	for i, a := range in {
		out[i] = Attachment{ContentType: a.ContentType, URL: a.URL, Filename: a.Filename}
	}
	return out
}

// TranslateDispatch converts a supported dispatch event's raw JSON payload
// into a normalized InboundEvent. ok is false for event types this
// connector does not translate (the caller should drop the frame).
func TranslateDispatch(eventType string, accountID string, payload []byte, unmarshal func([]byte, interface{}) error, nowUnix int64) (InboundEvent, bool, error) {
	var m rawMessage
	if err := unmarshal(payload, &m); err != nil {
		return InboundEvent{}, false, err
	}

	senderID := m.Author.UnionOpenid
	if senderID == "" {
		senderID = m.Author.ID
	}

	base := InboundEvent{
		AccountID:   accountID,
		SenderID:    senderID,
		SenderName:  m.Author.Username,
		Content:     m.Content,
		MessageID:   m.ID,
		Timestamp:   nowUnix,
		Attachments: toAttachments(m.Attachments),
	}

	switch eventType {
	case EventC2CMessageCreate:
		base.Kind = KindC2C
		return base, true, nil
	case EventGroupAtMessageCreate:
		base.Kind = KindGroup
		base.GroupOpenid = m.GroupOpenid
		return base, true, nil
	case EventAtMessageCreate:
		base.Kind = KindGuild
		base.ChannelID = m.ChannelID
		base.GuildID = m.GuildID
		return base, true, nil
	case EventDirectMessageCreate:
		base.Kind = KindDM
		base.ChannelID = m.ChannelID
		base.GuildID = m.GuildID
		return base, true, nil
	default:
		return InboundEvent{}, false, nil
	}
}
