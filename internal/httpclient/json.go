package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DoJSON encodes in (when non-nil), executes the request and decodes a 2xx
// body into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, url string, header http.Header, in, out any) (*Response, error) {
	req := Request{Method: method, URL: url, Header: header.Clone()}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("httpclient: encode request: %w", err)
		}
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("httpclient: decode response: %w", err)
		}
	}
	return resp, nil
}
