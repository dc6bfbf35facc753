package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	wechatTokenFmt = "https://qyapi.weixin.qq.com/cgi-bin/gettoken?corpid=%s&corpsecret=%s"
	wechatSendFmt  = "https://qyapi.weixin.qq.com/cgi-bin/message/send?access_token=%s"
	tokenLifetime  = 2 * time.Hour
)

// WeChatWork delivers messages through a WeChat Work (Qiye Weixin)
// application, fetching and caching an access token the way a corp-app
// integration is expected to.
type WeChatWork struct {
	tokenURL string
	sendFmt  string
	toUsers  []string
	agentID  int
	client   *http.Client
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewWeChatWork creates a WeChat Work channel. toUsers is the recipient
// user ID list; agentID identifies the corp app sending the message.
func NewWeChatWork(corpID, secret string, toUsers []string, agentID int, client *http.Client) *WeChatWork {
	return &WeChatWork{
		tokenURL: fmt.Sprintf(wechatTokenFmt, corpID, secret),
		sendFmt:  wechatSendFmt,
		toUsers:  toUsers,
		agentID:  agentID,
		client:   client,
		now:      time.Now,
	}
}

type wechatTokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
}

func (w *WeChatWork) getToken(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.token != "" && w.now().Before(w.expiresAt) {
		return w.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("wechat: build token request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wechat: fetch token: %w", err)
	}
	defer resp.Body.Close()

	var tr wechatTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("wechat: decode token response: %w", err)
	}
	if tr.ErrCode != 0 {
		return "", fmt.Errorf("wechat: get token failed: %s", tr.ErrMsg)
	}

	w.token = tr.AccessToken
	w.expiresAt = w.now().Add(tokenLifetime)
	return w.token, nil
}

type wechatMessage struct {
	ToUser  string      `json:"touser"`
	MsgType string      `json:"msgtype"`
	AgentID int         `json:"agentid"`
	Text    wechatText  `json:"text"`
}

type wechatText struct {
	Content string `json:"content"`
}

func (w *WeChatWork) Send(ctx context.Context, message string) error {
	token, err := w.getToken(ctx)
	if err != nil {
		return err
	}

	payload := wechatMessage{
		ToUser:  strings.Join(w.toUsers, "|"),
		MsgType: "text",
		AgentID: w.agentID,
		Text:    wechatText{Content: message},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wechat: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(w.sendFmt, token), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("wechat: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("wechat: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wechat: unexpected status %d", resp.StatusCode)
	}
	return nil
}
