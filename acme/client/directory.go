package client

import (
	"context"
	"encoding/json"
)

func (c *Client) getDirectory(ctx context.Context) (map[string]any, error) {
	resp, err := c.net.GetURL(ctx, c.DirectoryURL.String())
	if err != nil {
		return nil, err
	}

	var directory map[string]any
	if err := json.Unmarshal(resp.Body, &directory); err != nil {
		return nil, err
	}

	return directory, nil
}

// UpdateDirectory updates the Client's cached directory used when looking up
// the endpoints for fetching nonces, creating orders and revoking
// certificates.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.1
func (c *Client) UpdateDirectory(ctx context.Context) error {
	newDir, err := c.getDirectory(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.directory = newDir
	c.mu.Unlock()
	c.log.Debug("updated directory", "url", c.DirectoryURL.String())
	return nil
}

// GetEndpointURL looks up the URL for a specific ACME endpoint in the cached
// directory resource. If the key is found its value is returned along with
// a true bool, otherwise an empty string and false.
func (c *Client) GetEndpointURL(name string) (string, bool) {
	c.mu.Lock()
	rawURL, ok := c.directory[name]
	c.mu.Unlock()
	if !ok {
		return "", false
	}
	if v, ok := rawURL.(string); ok && v != "" {
		return v, true
	}
	return "", false
}
