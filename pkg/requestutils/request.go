package requestutils

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/hashicorp/go-cleanhttp"
)

// maxErrorBody bounds the part of a non 2xx response body that is logged.
const maxErrorBody = 4 << 10

type requests struct {
	logger lumber.Logger
	client *http.Client
}

// New returns a core.Requests backed by a pooled go-cleanhttp client. Deadlines come from the
// request context.
func New(logger lumber.Logger) core.Requests {
	return &requests{
		logger: logger,
		client: cleanhttp.DefaultPooledClient(),
	}
}

// NewWithClient returns a core.Requests using client.
func NewWithClient(client *http.Client, logger lumber.Logger) core.Requests {
	return &requests{logger: logger, client: client}
}

func (r *requests) MakeAPIRequest(ctx context.Context, httpMethod, endpoint string, body []byte,
	headers map[string]string) ([]byte, error) {
	resp, err := r.do(ctx, httpMethod, endpoint, body, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Errorf("error while reading http response body %v", err)
		return respBody, errs.Transient(err)
	}
	return respBody, nil
}

func (r *requests) OpenStream(ctx context.Context, endpoint string, headers map[string]string) (io.ReadCloser, error) {
	resp, err := r.do(ctx, http.MethodGet, endpoint, nil, headers)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (r *requests) do(ctx context.Context, httpMethod, endpoint string, body []byte,
	headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, bytes.NewReader(body))
	if err != nil {
		r.logger.Errorf("error while creating http request %v", err)
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Errorf("error while sending http request %v", err)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errs.Transient(err)
	}

	//nolint:gomnd
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		r.logger.Errorf("non 2xx status code %d from %s: %s", resp.StatusCode, endpoint, string(snippet))
		return nil, &errs.StatusError{StatusCode: resp.StatusCode, Endpoint: endpoint}
	}
	return resp, nil
}
