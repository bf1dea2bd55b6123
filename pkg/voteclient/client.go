package voteclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"folio/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client talks to the comment HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL. httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// Submission 提交评论的请求体
type Submission struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Comment  string `json:"comment"`
	PostID   string `json:"postId"`
	ParentID string `json:"parentId,omitempty"`
}

func (c *Client) Vote(ctx context.Context, commentID string, kind models.VoteKind, action models.VoteAction) (*models.Comment, error) {
	body := map[string]string{"type": string(kind), "action": string(action)}
	var updated models.Comment
	path := "/api/comments/" + url.PathEscape(commentID) + "/vote"
	if err := c.do(ctx, http.MethodPost, path, body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) List(ctx context.Context, postID string) ([]models.Comment, error) {
	var comments []models.Comment
	if err := c.do(ctx, http.MethodGet, "/api/comments?postId="+url.QueryEscape(postID), nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

func (c *Client) Submit(ctx context.Context, s Submission) (*models.Comment, error) {
	var resp struct {
		Message string         `json:"message"`
		Comment models.Comment `json:"comment"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/comments", s, &resp); err != nil {
		return nil, err
	}
	return &resp.Comment, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// Events opens the change stream of one comment. The channel yields the snapshot first,
// then every update, and is closed when ctx ends or the server hangs up.
func (c *Client) Events(ctx context.Context, commentID string) (<-chan *models.Comment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/comments/"+url.PathEscape(commentID)+"/events", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "text/event-stream")

	// 长连接不能使用带超时的客户端
	streamClient := *c.http
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "open change stream")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	out := make(chan *models.Comment)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

// readEvents 解析 data: 行，空行结束一个事件
func readEvents(ctx context.Context, r io.Reader, out chan<- *models.Comment) {
	reader := bufio.NewReader(r)
	var data bytes.Buffer
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "" && data.Len() > 0:
			var comment models.Comment
			if jerr := json.Unmarshal(data.Bytes(), &comment); jerr != nil {
				logrus.WithError(jerr).Warn("drop malformed change event")
			} else {
				select {
				case out <- &comment:
				case <-ctx.Done():
					return
				}
			}
			data.Reset()
		}

		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logrus.WithError(err).Debug("change stream closed")
			}
			return
		}
	}
}
