package service

import (
	"github.com/cloudwego/eino/schema"

	"github.com/choraleia/chatengine/pkg/db"
	"github.com/choraleia/chatengine/pkg/tokenizer"
)

// HistoryWindow is the slice of stored history sent to the model.
type HistoryWindow struct {
	Messages   []*schema.Message
	TokenCount int // tokens of the included messages, excluding the pinned first one
	Dropped    int // messages left out at the newest end
}

// WindowHistory selects history oldest-first until the budget is reached.
//
// messages[0] (the personality prompt) is always included and never counted.
// The budget is checked before each message, so the message that crosses it
// is still included.
func WindowHistory(messages []db.Message, budget int, counter tokenizer.Counter) HistoryWindow {
	if len(messages) == 0 {
		return HistoryWindow{}
	}

	window := HistoryWindow{
		Messages: []*schema.Message{toSchemaMessage(messages[0])},
	}

	rest := messages[1:]
	for i, m := range rest {
		if window.TokenCount >= budget {
			window.Dropped = len(rest) - i
			break
		}
		window.Messages = append(window.Messages, toSchemaMessage(m))
		window.TokenCount += counter.Count(m.Content)
	}
	return window
}

func toSchemaMessage(m db.Message) *schema.Message {
	switch m.Role {
	case db.RoleSystem:
		return schema.SystemMessage(m.Content)
	case db.RoleAssistant:
		return schema.AssistantMessage(m.Content, nil)
	default:
		return schema.UserMessage(m.Content)
	}
}
