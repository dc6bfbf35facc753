package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const dingTalkSendFmt = "https://oapi.dingtalk.com/robot/send?access_token=%s"

// DingTalk delivers messages through a DingTalk custom robot webhook.
type DingTalk struct {
	sendURL string
	client  *http.Client
}

// NewDingTalk creates a DingTalk channel for the given robot access token.
func NewDingTalk(token string, client *http.Client) *DingTalk {
	return &DingTalk{sendURL: fmt.Sprintf(dingTalkSendFmt, token), client: client}
}

type dingTalkPayload struct {
	MsgType string          `json:"msgtype"`
	Text    dingTalkText    `json:"text"`
}

type dingTalkText struct {
	Content string `json:"content"`
}

func (d *DingTalk) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(dingTalkPayload{MsgType: "text", Text: dingTalkText{Content: message}})
	if err != nil {
		return fmt.Errorf("dingtalk: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dingtalk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dingtalk: unexpected status %d", resp.StatusCode)
	}
	return nil
}
