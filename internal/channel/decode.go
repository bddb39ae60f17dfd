package channel

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/samber/lo"

	"github.com/Tyrowin/pingspace/internal/chat"
)

var errNotObject = errors.New("frame is not a JSON object")

// inboundFrame is the structured shape of a server frame. Chat lines carry
// sender and content; rate-limit notices carry error and type.
type inboundFrame struct {
	Sender    *string `json:"sender"`
	Content   *string `json:"content"`
	CreatedAt string  `json:"created_at"`
	Error     *string `json:"error"`
	Type      string  `json:"type"`
}

// DecodeFrame turns one inbound frame into exactly one live Message. Frames
// that are not a JSON object of the expected shape are kept as raw text with
// an empty sender.
func DecodeFrame(raw []byte) chat.Message {
	msg, _ := decodeFrame(raw)
	return msg
}

func decodeFrame(raw []byte) (chat.Message, error) {
	msg := chat.Message{Origin: chat.OriginLive}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		msg.Content = string(raw)
		return msg, errNotObject
	}

	var frame inboundFrame
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		msg.Content = string(raw)
		return msg, err
	}

	if frame.Content == nil && frame.Error != nil {
		msg.Content = *frame.Error
		return msg, nil
	}

	msg.Sender = lo.FromPtr(frame.Sender)
	msg.Content = lo.FromPtr(frame.Content)
	return msg, nil
}
