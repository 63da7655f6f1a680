package source

import (
	"bufio"
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

// Message is one inbound topic entry. Only entries with Event=="message"
// reach the pipeline.
type Message struct {
	Event    string `json:"event"`
	ID       string `json:"id"`
	Time     int64  `json:"time"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

// Cursor marks the last consumed entry per topic. Ties at the same
// timestamp are broken by id equality so a restart never re-delivers the
// entry the cursor points at.
type Cursor struct {
	Time int64  `json:"time"`
	ID   string `json:"id"`
}

// Seen reports whether the message is at or behind the cursor.
func (c Cursor) Seen(m Message) bool {
	if m.Time < c.Time {
		return true
	}
	return m.Time == c.Time && m.ID == c.ID
}

// Client polls one alert source over HTTP with a since-cursor.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Poll fetches entries for a topic newer than the cursor and returns them
// with the advanced cursor. The response may be JSON Lines or one JSON
// array; both are accepted.
func (c *Client) Poll(ctx context.Context, topic string, cur Cursor) ([]Message, Cursor, error) {
	u := fmt.Sprintf("%s/%s/json?poll=1&since=%s", c.base, url.PathEscape(topic), sinceParam(cur))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, cur, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cur, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, cur, fmt.Errorf("source %s: status %d", topic, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, cur, err
	}

	all, err := decodeMessages(body)
	if err != nil {
		return nil, cur, fmt.Errorf("source %s: %w", topic, err)
	}

	var out []Message
	for _, m := range all {
		if m.Event != "message" || cur.Seen(m) {
			continue
		}
		out = append(out, m)
		cur = Cursor{Time: m.Time, ID: m.ID}
	}
	return out, cur, nil
}

// sinceParam converts the cursor to the since= query value; a zero cursor
// asks for the whole retained backlog.
func sinceParam(c Cursor) string {
	if c.Time <= 0 {
		return "all"
	}
	return strconv.FormatInt(c.Time, 10)
}

func decodeMessages(body []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []Message
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var out []Message
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, sc.Err()
}
