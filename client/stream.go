package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/owfn/service/chat"
	natspkg "github.com/brojonat/owfn/service/nats"
)

// Chat sends a question and calls onEvent for each streamed event in order.
// It returns when the stream ends. An error event from the server is returned
// as an error after onEvent has seen it.
func (c *Client) Chat(ctx context.Context, req chat.Request, onEvent func(chat.Event) error) error {
	httpReq, err := c.newPost(ctx, "/api/chatbot", req)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e chat.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("failed to decode chat event: %w", err)
		}
		if err := onEvent(e); err != nil {
			return err
		}
		switch e.Type {
		case chat.EventEnd:
			return nil
		case chat.EventError:
			return fmt.Errorf("chat failed: %s", e.Message)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read chat stream: %w", err)
	}
	return fmt.Errorf("chat stream ended without an end event")
}

// StreamPresale follows the presale feed, replaying the last replay
// contributions first, and calls onEvent for each one until ctx is done or
// onEvent returns an error.
func (c *Client) StreamPresale(ctx context.Context, replay int, onEvent func(*natspkg.ContributionEvent) error) error {
	u := c.baseURL + "/api/presale-feed"
	if replay > 0 {
		u += "?replay=" + strconv.Itoa(replay)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("presale feed connected", "replay", replay)

	sc := bufio.NewScanner(resp.Body)
	var event string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := c.dispatchFeedEvent(event, data.String(), onEvent); err != nil {
					return err
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read presale feed: %w", err)
	}
	return fmt.Errorf("presale feed closed by server")
}

func (c *Client) dispatchFeedEvent(event, data string, onEvent func(*natspkg.ContributionEvent) error) error {
	switch event {
	case "contribution", "":
		var e natspkg.ContributionEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			c.logger.Warn("skipping malformed feed event", "error", err)
			return nil
		}
		return onEvent(&e)
	case "error":
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal([]byte(data), &e)
		return fmt.Errorf("presale feed error: %s", e.Error)
	default:
		return nil
	}
}

// Await blocks until a contribution matching match arrives on the presale
// feed and returns it. replay lets a recent contribution satisfy the wait.
func (c *Client) Await(ctx context.Context, replay int, match func(*natspkg.ContributionEvent) bool) (*natspkg.ContributionEvent, error) {
	var found *natspkg.ContributionEvent
	errFound := errors.New("found")
	err := c.StreamPresale(ctx, replay, func(e *natspkg.ContributionEvent) error {
		if match(e) {
			found = e
			return errFound
		}
		c.logger.Debug("contribution did not match", "signature", e.Signature)
		return nil
	})
	if found != nil {
		return found, nil
	}
	return nil, err
}
