package session

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// retryTransport retries transport-level failures (connection resets, read
// timeouts) with exponential backoff. Responses with error status codes are
// not retried here; they are an application concern. Requests whose body
// cannot be replayed are never retried.
type retryTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
	log     zerolog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = t.next.RoundTrip(req)
		if err == nil || attempt >= t.retries {
			break
		}
		if req.Context().Err() != nil {
			break
		}
		if req.Body != nil && req.GetBody == nil {
			break
		}

		wait := t.backoff << uint(attempt)
		t.log.Debug().
			Str("url", req.URL.String()).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Err(err).
			Msg("Retrying request")
		select {
		case <-time.After(wait):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}

		if req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, err
			}
			req.Body = body
		}
	}
	return resp, err
}
