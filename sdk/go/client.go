package tasktrackersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal task tracker HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Deadline    string  `json:"deadline"`
	IsCompleted bool    `json:"is_completed"`
	Priority    string  `json:"priority"`
	TaskTypeID  *int64  `json:"task_type_id,omitempty"`
	ProjectID   *int64  `json:"project_id,omitempty"`
	AssigneeIDs []int64 `json:"assignee_ids"`
}

// NewTask is the create payload for a task.
type NewTask struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Deadline    string  `json:"deadline"`
	Priority    string  `json:"priority,omitempty"`
	TaskTypeID  *int64  `json:"task_type_id,omitempty"`
	ProjectID   *int64  `json:"project_id,omitempty"`
	AssigneeIDs []int64 `json:"assignee_ids,omitempty"`
}

// TaskPage is one page of the task listing.
type TaskPage struct {
	Items    []Task `json:"items"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Total    int    `json:"total"`
	NumPages int    `json:"num_pages"`
	HasNext  bool   `json:"has_next"`
}

// TaskFilter narrows the task listing.
type TaskFilter struct {
	Name    string
	MyTasks bool
	Page    int
}

func (f TaskFilter) values() url.Values {
	q := url.Values{}
	if f.Name != "" {
		q.Set("name", f.Name)
	}
	if f.MyTasks {
		q.Set("my_tasks", "True")
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	return q
}

type Worker struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Session is returned by Login.
type Session struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Next      string `json:"next"`
	Worker    Worker `json:"worker"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.apiPath("auth/login"), map[string]any{
		"username": username,
		"password": password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Me returns the authenticated worker.
func (c *Client) Me(ctx context.Context) (Worker, error) {
	var resp Worker
	err := c.do(ctx, http.MethodGet, c.apiPath("me"), nil, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks"), t, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.apiPath(fmt.Sprintf("tasks/%d", id)), nil, &resp)
	return resp, err
}

// ListTasks returns one page of the sorted task listing.
func (c *Client) ListTasks(ctx context.Context, f TaskFilter) (TaskPage, error) {
	endpoint := c.apiPath("tasks")
	if q := f.values(); len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteTask marks a task complete and returns the listing URL the
// server redirected to.
func (c *Client) CompleteTask(ctx context.Context, id int64, f TaskFilter) (string, error) {
	return c.toggle(ctx, id, "complete", f)
}

// ReopenTask marks a task not complete.
func (c *Client) ReopenTask(ctx context.Context, id int64, f TaskFilter) (string, error) {
	return c.toggle(ctx, id, "not-complete", f)
}

func (c *Client) toggle(ctx context.Context, id int64, action string, f TaskFilter) (string, error) {
	endpoint := c.apiPath(fmt.Sprintf("tasks/%d/%s", id, action))
	f.Page = 0
	if q := f.values(); len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	resp, err := c.send(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		b, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp.Header.Get("Location"), nil
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.apiPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// send never follows redirects so login redirects and 303 answers reach
// the caller.
func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout: c.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return c.HTTPClient.Do(req)
}

func (c *Client) apiPath(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
