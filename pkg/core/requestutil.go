package core

import (
	"context"
	"io"
)

// Requests is a util interface for making API Requests
type Requests interface {
	// MakeAPIRequest performs the request and returns the whole response body.
	MakeAPIRequest(ctx context.Context, httpMethod, endpoint string, body []byte, headers map[string]string) ([]byte, error)
	// OpenStream performs a GET request and returns the response body unread.
	OpenStream(ctx context.Context, endpoint string, headers map[string]string) (io.ReadCloser, error)
}
