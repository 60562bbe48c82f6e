package pushover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"smart-control/internal/domain"
)

const DefaultEndpoint = "https://api.pushover.net/1/messages.json"

// Pushover message priorities.
const (
	priorityLow    = -1
	priorityNormal = 0
	priorityHigh   = 1
)

type Client struct {
	token      string
	userKey    string
	title      string
	endpoint   string
	httpClient *http.Client
}

func NewClient(token, userKey, title string) *Client {
	return NewClientWithURL(token, userKey, title, DefaultEndpoint)
}

func NewClientWithURL(token, userKey, title, endpoint string) *Client {
	if title == "" {
		title = "Smart Control"
	}
	return &Client{
		token:      token,
		userKey:    userKey,
		title:      title,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify pushes a notice to the configured user. Errors are sent with high
// priority so they bypass quiet hours; applied commands arrive silently.
// Without credentials it is a no-op.
func (c *Client) Notify(ctx context.Context, notice domain.Notice) error {
	if c.token == "" || c.userKey == "" {
		return nil
	}

	form := c.form(notice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s notice: %w", notice.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover rejected %s notice: %s", notice.Kind, resp.Status)
	}
	return nil
}

func (c *Client) form(notice domain.Notice) url.Values {
	title := c.title
	if notice.Field.Valid() {
		title += ": " + notice.Field.Info().Title
	}

	form := url.Values{}
	form.Set("token", c.token)
	form.Set("user", c.userKey)
	form.Set("title", title)
	form.Set("message", notice.Message)
	form.Set("priority", strconv.Itoa(priority(notice.Level)))
	if !notice.Time.IsZero() {
		form.Set("timestamp", strconv.FormatInt(notice.Time.Unix(), 10))
	}
	return form
}

func priority(level domain.NoticeLevel) int {
	switch level {
	case domain.NoticeError:
		return priorityHigh
	case domain.NoticeWarn:
		return priorityNormal
	default:
		return priorityLow
	}
}
