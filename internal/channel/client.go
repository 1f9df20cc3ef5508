// Package channel предоставляет клиент шлюза сообщений, через который
// сервис общается с внешними ботами-генераторами.
//
// Шлюз — отдельный процесс, владеющий сессией мессенджера. Он отдаёт только
// последнее сообщение пира: доставка может запаздывать, уведомлений нет,
// единственный механизм ожидания — опрос.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Button описывает одну кнопку в сообщении пира.
type Button struct {
	Label string `json:"label"`
}

// Attachment описывает файл, прикреплённый к сообщению пира.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message — снимок последнего сообщения пира.
type Message struct {
	ID         int64       `json:"id"`
	Text       string      `json:"text"`
	Buttons    [][]Button  `json:"buttons,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Client инкапсулирует HTTP-взаимодействие со шлюзом сообщений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент шлюза по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 10 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

type sendRequest struct {
	Peer string `json:"peer"`
	Text string `json:"text"`
}

// SendMessage отправляет пиру текстовое сообщение.
func (c *Client) SendMessage(ctx context.Context, peer, text string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("gateway client not configured")
	}
	return c.postJSON(ctx, "/api/messages", sendRequest{Peer: peer, Text: text})
}

// LatestMessage возвращает последнее сообщение пира или nil, если сообщений ещё нет.
func (c *Client) LatestMessage(ctx context.Context, peer string) (*Message, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/messages/latest?peer="+url.QueryEscape(peer)), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &msg, nil
}

type clickRequest struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// SelectOption нажимает кнопку (row, col) в указанном сообщении.
func (c *Client) SelectOption(ctx context.Context, msg *Message, row, col int) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("gateway client not configured")
	}
	if msg == nil {
		return fmt.Errorf("no message to select option on")
	}
	return c.postJSON(ctx, fmt.Sprintf("/api/messages/%d/click", msg.ID), clickRequest{Row: row, Col: col})
}

// DownloadAttachment скачивает вложение сообщения в файл dst.
func (c *Client) DownloadAttachment(ctx context.Context, msg *Message, dst string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("gateway client not configured")
	}
	if msg == nil || msg.Attachment == nil {
		return fmt.Errorf("message has no attachment")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/attachments/"+msg.Attachment.ID), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	return nil
}
