package session

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyTripper struct {
	failures int
	calls    int
	bodies   []string
}

func (f *flakyTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(data))
	}
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func TestRetryTransportRecovers(t *testing.T) {
	next := &flakyTripper{failures: 2}
	rt := &retryTransport{next: next, retries: 3, backoff: time.Millisecond}

	req, err := http.NewRequest(http.MethodGet, "http://moodle.test/page", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 3, next.calls)
}

func TestRetryTransportGivesUp(t *testing.T) {
	next := &flakyTripper{failures: 10}
	rt := &retryTransport{next: next, retries: 2, backoff: time.Millisecond}

	req, err := http.NewRequest(http.MethodGet, "http://moodle.test/page", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestRetryTransportRewindsBody(t *testing.T) {
	next := &flakyTripper{failures: 1}
	rt := &retryTransport{next: next, retries: 2, backoff: time.Millisecond}

	req, err := http.NewRequest(http.MethodPost, "http://moodle.test/form", strings.NewReader("a=1"))
	require.NoError(t, err)
	require.NotNil(t, req.GetBody)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, []string{"a=1", "a=1"}, next.bodies)
}

func TestRetryTransportNeverRetriesOneShotBody(t *testing.T) {
	next := &flakyTripper{failures: 10}
	rt := &retryTransport{next: next, retries: 5, backoff: time.Millisecond}

	req, err := http.NewRequest(http.MethodPost, "http://moodle.test/form", io.NopCloser(strings.NewReader("a=1")))
	require.NoError(t, err)
	req.GetBody = nil

	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
}
