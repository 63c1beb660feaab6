package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zhaobenny/lectic-usage/internal/fileutil"
)

var ErrFetch = errors.New("fetch prices")

// maxBody caps the downloaded document.
const maxBody = 16 << 20

// Client downloads the remote price document
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for url. An empty url uses DefaultURL.
func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// URL returns the endpoint the client fetches from.
func (c *Client) URL() string {
	return c.url
}

// Fetch downloads the price document and checks that it decodes as a table.
func (c *Client) Fetch(ctx context.Context) ([]byte, *Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: server returned status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	table, err := DecodeTable(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return body, table, nil
}

// Refresh fetches the document and atomically replaces path with it. On
// any failure the existing file is left untouched.
func (c *Client) Refresh(ctx context.Context, path string) (*Table, error) {
	body, table, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	buf.WriteByte('\n')

	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}
	return table, nil
}
