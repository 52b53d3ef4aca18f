package feishu

import (
	"encoding/json"
	"fmt"

	"github.com/MEKXH/postgate/internal/approval"
	"github.com/MEKXH/postgate/internal/bus"
	"github.com/MEKXH/postgate/internal/channel"
)

type card struct {
	Config   cardConfig `json:"config"`
	Header   cardHeader `json:"header"`
	Elements []any      `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
	UpdateMulti    bool `json:"update_multi"`
}

type cardHeader struct {
	Title    cardText `json:"title"`
	Template string   `json:"template"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardDiv struct {
	Tag  string   `json:"tag"`
	Text cardText `json:"text"`
}

type cardActions struct {
	Tag     string       `json:"tag"`
	Actions []cardButton `json:"actions"`
}

type cardButton struct {
	Tag   string            `json:"tag"`
	Text  cardText          `json:"text"`
	Type  string            `json:"type"`
	Value map[string]string `json:"value"`
}

// buildCard renders a prompt as a message card. A nil state renders the
// pending prompt with buttons; otherwise the final status replaces them.
func buildCard(prompt channel.Prompt, state *channel.PromptState) (string, error) {
	c := card{
		Config: cardConfig{WideScreenMode: true, UpdateMulti: true},
		Header: cardHeader{
			Title:    cardText{Tag: "plain_text", Content: channel.PromptTitle},
			Template: headerTemplate(approval.StatusPending),
		},
	}

	body := prompt.Description() + "\n\n" +
		"**📝 Content**\n" + prompt.ContentOrDefault() + "\n\n" +
		"**🎯 Target:** " + prompt.TargetOrDefault()
	if !prompt.ExpiresAt.IsZero() {
		body += "\n**⏰ Expires:** " + prompt.ExpiresAt.UTC().Format("15:04:05 MST")
	}
	body += "\n**Request ID:** " + prompt.RequestID
	c.Elements = append(c.Elements, cardDiv{Tag: "div", Text: cardText{Tag: "lark_md", Content: body}})

	if state == nil {
		c.Elements = append(c.Elements, cardActions{
			Tag: "action",
			Actions: []cardButton{
				button(channel.ApproveLabel, "primary", bus.CustomID(bus.ActionApprove, prompt.RequestID)),
				button(channel.DenyLabel, "danger", bus.CustomID(bus.ActionDeny, prompt.RequestID)),
			},
		})
	} else {
		c.Header.Template = headerTemplate(state.Status)
		c.Elements = append(c.Elements,
			map[string]string{"tag": "hr"},
			cardDiv{Tag: "div", Text: cardText{Tag: "lark_md", Content: "**📊 Status:** " + state.StatusLabel()}},
		)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal feishu card: %w", err)
	}
	return string(data), nil
}

func button(label, kind, customID string) cardButton {
	return cardButton{
		Tag:   "button",
		Text:  cardText{Tag: "plain_text", Content: label},
		Type:  kind,
		Value: map[string]string{customIDKey: customID},
	}
}

func headerTemplate(status approval.RequestStatus) string {
	switch status {
	case approval.StatusApproved:
		return "green"
	case approval.StatusDenied:
		return "red"
	case approval.StatusExpired:
		return "grey"
	default:
		return "orange"
	}
}
