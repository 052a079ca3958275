package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Retries = 0
	client, err := New(cfg)
	require.NoError(t, err)
	return client
}

func TestGetReturnsPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>jku: Dashboard</title></html>"))
	}))
	defer srv.Close()

	client := testClient(t, srv)
	page, err := client.Get(context.Background(), srv.URL+"/jku/my/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, string(page.Body), "Dashboard")
}

func TestGuestMarkerMeansSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>jku: Dashboard (GUEST)</title></html>"))
	}))
	defer srv.Close()

	client := testClient(t, srv)
	_, err := client.Get(context.Background(), srv.URL+"/jku/my/")
	assert.ErrorIs(t, err, moodle.ErrSessionExpired)
}

func TestRedirectToLoginMeansSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jku/course/view.php", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/jku/login/index.php", http.StatusFound)
	})
	mux.HandleFunc("/jku/login/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>please log in</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := testClient(t, srv)
	_, err := client.Get(context.Background(), srv.URL+"/jku/course/view.php?id=7")
	assert.ErrorIs(t, err, moodle.ErrSessionExpired)
}

func TestRequestingLoginPageIsNotExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>login form</html>"))
	}))
	defer srv.Close()

	client := testClient(t, srv)
	_, err := client.Get(context.Background(), srv.URL+"/jku/login/index.php")
	assert.NoError(t, err)
}

func TestServiceReturnsRepliesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jku/lib/ajax/service.php", r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("sesskey"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"error":false,"data":{"n":1}},{"error":false,"data":{"n":2}}]`))
	}))
	defer srv.Close()

	client := testClient(t, srv)
	client.sesskey = "abc"

	replies, err := client.Service(context.Background(), []ServiceCall{
		{Index: 0, Method: "first", Args: map[string]any{}},
		{Index: 1, Method: "second", Args: map[string]any{}},
	})
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.JSONEq(t, `{"n":1}`, string(replies[0]))
	assert.JSONEq(t, `{"n":2}`, string(replies[1]))
}

func TestServiceErrorReplyMeansSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"error":true,"data":null}]`))
	}))
	defer srv.Close()

	client := testClient(t, srv)
	_, err := client.Service(context.Background(), []ServiceCall{{Method: "anything"}})
	assert.ErrorIs(t, err, moodle.ErrSessionExpired)
}

func TestStreamDetectsLoginRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jku/pluginfile.php/1/file.pdf", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/jku/login/index.php", http.StatusFound)
	})
	mux.HandleFunc("/jku/login/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("login"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := testClient(t, srv)
	_, err := client.Stream(context.Background(), http.MethodGet, srv.URL+"/jku/pluginfile.php/1/file.pdf", nil)
	assert.ErrorIs(t, err, moodle.ErrSessionExpired)
}

func TestSiteURL(t *testing.T) {
	cfg := DefaultConfig()
	client, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://moodle.jku.at/jku/login/index.php", client.SiteURL("/login/index.php"))
	assert.Equal(t, "moodle.jku.at", client.Host())
}
