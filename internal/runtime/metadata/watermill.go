package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Stamp writes the event headers onto msg. Empty values are skipped so a
// header set earlier in the pipeline is not blanked.
func Stamp(msg *message.Message, kind, id, source string) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, 4)
	}
	for key, value := range map[string]string{
		KeyEventKind: kind,
		KeyEventID:   id,
		KeySource:    source,
	} {
		if value != "" {
			msg.Metadata.Set(key, value)
		}
	}
}

// FromMessage copies the headers of msg. Handlers get their own map and can
// not alter what later middleware sees.
func FromMessage(msg *message.Message) Metadata {
	if msg == nil || len(msg.Metadata) == 0 {
		return Metadata{}
	}
	return Metadata(msg.Metadata).Clone()
}
