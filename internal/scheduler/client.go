// Package scheduler talks to the external deferred-job service. Jobs are
// registered under caller-chosen keys; registering the same key again
// overwrites the existing job, which is what makes retried transactions
// safe to replay.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/casework/internal/engine"
)

// Client registers callback tasks over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New constructs a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ScheduleCallback registers (or overwrites) a task. A response that is not
// an explicit acknowledgement is an error: a silently dropped task means a
// deferred activity would never materialize.
func (c *Client) ScheduleCallback(ctx context.Context, task engine.ScheduledTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/v1/tasks", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("scheduler error: %s", data)
	}

	var payload struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	if !payload.OK {
		return fmt.Errorf("scheduler did not acknowledge task %s", task.TaskKey)
	}
	return nil
}
