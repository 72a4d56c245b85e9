// Package clients talks to a running kiosk over HTTP.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"joinrecs/internal/attendance"
)

// StatusError is a non-success reply from the kiosk.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Message)
}

type Candidate struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type KioskClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
	userAgent  string
}

// NewKioskClient uses http.DefaultClient when httpClient is nil.
func NewKioskClient(baseURL string, httpClient *http.Client) *KioskClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &KioskClient{baseURL: baseURL, httpClient: httpClient, userAgent: "joinrecs-client"}
}

// WithUserAgent returns a copy that identifies itself as ua.
func (c *KioskClient) WithUserAgent(ua string) *KioskClient {
	clone := *c
	clone.userAgent = ua
	return &clone
}

// CheckIn submits the kiosk form. A partial write comes back as a result
// with a warning, not an error.
func (c *KioskClient) CheckIn(ctx context.Context, req attendance.CheckInRequest) (*attendance.Result, error) {
	var result attendance.Result
	if err := c.do(ctx, http.MethodPost, "/checkin", req, &result, http.StatusCreated, http.StatusMultiStatus); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *KioskClient) SearchMembers(ctx context.Context, prefix string) ([]Candidate, error) {
	var out []Candidate
	if err := c.do(ctx, http.MethodGet, "/members/search?q="+url.QueryEscape(prefix), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KioskClient) Keepalive(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/keepalive", nil, nil, http.StatusOK)
}

// Login exchanges the passphrase for a token used by the admin calls.
func (c *KioskClient) Login(ctx context.Context, passphrase string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/login", map[string]string{"passphrase": passphrase}, &resp, http.StatusOK); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// DailyLog fetches one civil day; an empty date means today.
func (c *KioskClient) DailyLog(ctx context.Context, date string) (*attendance.DayLog, error) {
	path := "/admin/log"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var day attendance.DayLog
	if err := c.do(ctx, http.MethodGet, path, nil, &day, http.StatusOK); err != nil {
		return nil, err
	}
	return &day, nil
}

func (c *KioskClient) DeleteRecord(ctx context.Context, kind attendance.Kind, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/admin/log/%s/%s", kind, id), nil, nil, http.StatusNoContent)
}

func (c *KioskClient) do(ctx context.Context, method, path string, in, out any, accept ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	for _, code := range accept {
		if resp.StatusCode != code {
			continue
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, out)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: failureMessage(data)}
}

func failureMessage(data []byte) string {
	var f struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &f) == nil && f.Message != "" {
		return f.Message
	}
	return string(bytes.TrimSpace(data))
}
