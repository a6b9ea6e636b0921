package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API is the surface of the remote assistant service the rest of the process
// depends on. *Client implements it; tests substitute fakes.
type API interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	RetrieveThread(ctx context.Context, threadID string) error
	PostMessage(ctx context.Context, threadID, text string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	ValidateAssistant(ctx context.Context, assistantID string) (string, error)
}

// Client talks to the OpenAI Assistants v2 API over HTTPS.
type Client struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

// New returns a client for the given API key and base URL. An empty base
// falls back to the public endpoint.
func New(apiKey, apiBase string) *Client {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &Client{
		apiKey:  apiKey,
		apiBase: strings.TrimSuffix(apiBase, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

var _ API = (*Client)(nil)

// CreateThread creates an empty conversation thread and returns its ID.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	body, err := c.do(ctx, "POST", "/threads", nil)
	if err != nil {
		return "", fmt.Errorf("assistant: create thread: %w", err)
	}
	var thread threadObject
	if err := json.Unmarshal(body, &thread); err != nil {
		return "", fmt.Errorf("assistant: create thread: decode response: %w", err)
	}
	if thread.ID == "" {
		return "", fmt.Errorf("assistant: create thread: response missing id")
	}
	return thread.ID, nil
}

// DeleteThread removes a thread. A 404 is treated as success: the thread is
// gone either way.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	_, err := c.do(ctx, "DELETE", "/threads/"+url.PathEscape(threadID), nil)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("assistant: delete thread %s: %w", threadID, err)
	}
	return nil
}

// RetrieveThread checks that a thread still exists remotely.
func (c *Client) RetrieveThread(ctx context.Context, threadID string) error {
	if _, err := c.do(ctx, "GET", "/threads/"+url.PathEscape(threadID), nil); err != nil {
		return fmt.Errorf("assistant: retrieve thread %s: %w", threadID, err)
	}
	return nil
}

// PostMessage appends a user message to a thread.
func (c *Client) PostMessage(ctx context.Context, threadID, text string) error {
	payload := createMessageRequest{Role: "user", Content: text}
	if _, err := c.do(ctx, "POST", "/threads/"+url.PathEscape(threadID)+"/messages", payload); err != nil {
		return fmt.Errorf("assistant: post message: %w", err)
	}
	return nil
}

// CreateRun starts the assistant on a thread and returns the new run.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	payload := createRunRequest{AssistantID: assistantID}
	body, err := c.do(ctx, "POST", "/threads/"+url.PathEscape(threadID)+"/runs", payload)
	if err != nil {
		return nil, fmt.Errorf("assistant: create run: %w", err)
	}
	var run Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("assistant: create run: decode response: %w", err)
	}
	return &run, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	body, err := c.do(ctx, "GET", "/threads/"+url.PathEscape(threadID)+"/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("assistant: get run: %w", err)
	}
	var run Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("assistant: get run: decode response: %w", err)
	}
	return &run, nil
}

// CancelRun asks the API to cancel an in-flight run.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/cancel"
	if _, err := c.do(ctx, "POST", path, nil); err != nil {
		return fmt.Errorf("assistant: cancel run: %w", err)
	}
	return nil
}

// listPageLimit is the page size for message listing; maxListPages bounds the
// pagination loop against a misbehaving server.
const (
	listPageLimit = 100
	maxListPages  = 50
)

// ListMessages returns the full message history of a thread, oldest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var all []Message
	after := ""
	for page := 0; page < maxListPages; page++ {
		path := fmt.Sprintf("/threads/%s/messages?order=asc&limit=%d", url.PathEscape(threadID), listPageLimit)
		if after != "" {
			path += "&after=" + url.QueryEscape(after)
		}
		body, err := c.do(ctx, "GET", path, nil)
		if err != nil {
			return nil, fmt.Errorf("assistant: list messages: %w", err)
		}
		var list messageList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("assistant: list messages: decode response: %w", err)
		}
		all = append(all, list.Data...)
		if !list.HasMore || list.LastID == "" {
			return all, nil
		}
		after = list.LastID
	}
	return nil, fmt.Errorf("assistant: list messages: pagination exceeded %d pages", maxListPages)
}

// ValidateAssistant confirms the configured assistant exists and is reachable
// with the configured key. Returns the assistant's display name.
func (c *Client) ValidateAssistant(ctx context.Context, assistantID string) (string, error) {
	body, err := c.do(ctx, "GET", "/assistants/"+url.PathEscape(assistantID), nil)
	if err != nil {
		return "", fmt.Errorf("assistant: validate %s: %w", assistantID, err)
	}
	var obj assistantObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", fmt.Errorf("assistant: validate %s: decode response: %w", assistantID, err)
	}
	return obj.Name, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}
