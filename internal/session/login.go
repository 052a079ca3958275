package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// Login runs the full shibboleth login flow: entry point, credential post,
// identity provider relay form, dashboard token extraction and cookie
// collapse. It holds the session write lock for the whole flow, so no other
// request can observe a half-replaced session.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return &moodle.AuthError{Step: "credentials", Err: errors.New("username or password empty")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	c.http.Jar = jar
	c.sesskey = ""
	c.userid = 0

	// Step 1: the login entry point redirects to the identity provider.
	entry, err := c.fetch(ctx, http.MethodGet, c.SiteURL("/login/index.php"), nil, "")
	if err != nil {
		return &moodle.AuthError{Step: "entry", Err: err}
	}

	// Step 2: submit credentials to wherever step 1 landed.
	creds := url.Values{
		"j_username":       {username},
		"j_password":       {password},
		"_eventId_proceed": {"Login"},
	}
	relay, err := c.fetch(ctx, http.MethodPost, entry.URL.String(), strings.NewReader(creds.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return &moodle.AuthError{Step: "credentials", Err: err}
	}

	// Step 3: the provider answers with a relay form whose hidden fields
	// are opaque; capture and repost them verbatim.
	action, fields, err := parseRelayForm(relay.Body)
	if err != nil {
		return &moodle.AuthError{Step: "relay form", Err: err}
	}
	target, err := relay.URL.Parse(action)
	if err != nil {
		return &moodle.AuthError{Step: "relay form", Err: fmt.Errorf("bad form action %q: %w", action, err)}
	}
	if _, err = c.fetch(ctx, http.MethodPost, target.String(), strings.NewReader(fields.Encode()), "application/x-www-form-urlencoded"); err != nil {
		return &moodle.AuthError{Step: "relay post", Err: err}
	}

	// Step 4: the authenticated landing page carries sesskey and user id.
	dash, err := c.fetch(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil, "")
	if err != nil {
		return &moodle.AuthError{Step: "dashboard", Err: err}
	}
	sesskey, ok := extractSesskey(dash.Body, c.cfg.BaseURL+c.cfg.SitePath)
	if !ok {
		return &moodle.AuthError{Step: "sesskey", Err: errors.New("no session key on landing page")}
	}
	userid, ok := extractUserID(dash.Body, c.cfg.BaseURL+c.cfg.SitePath)
	if !ok {
		// The original portal omits this on some skins; basic
		// operations still work without it.
		c.log.Warn().Msg("No userid found on landing page")
	}

	// Step 5: collapse the accumulated cookies down to the two the portal
	// needs from here on.
	if err := c.collapseCookies(); err != nil {
		return &moodle.AuthError{Step: "cookies", Err: err}
	}

	c.sesskey = sesskey
	c.userid = userid
	c.log.Info().Int64("userid", userid).Msg("Logged in")
	return nil
}

// Reset drops all session state, forcing a fresh Login.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	jar, _ := cookiejar.New(nil)
	c.http.Jar = jar
	c.sesskey = ""
	c.userid = 0
}

// parseRelayForm extracts the form action and every named input of the
// identity provider's relay page. The field set is not known ahead of time.
func parseRelayForm(body []byte) (string, url.Values, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	form := doc.Find("form").First()
	if form.Length() == 0 {
		return "", nil, &moodle.ParseError{Page: "idp relay", Missing: "form"}
	}
	action, ok := form.Attr("action")
	if !ok || action == "" {
		return "", nil, &moodle.ParseError{Page: "idp relay", Missing: "form action"}
	}
	fields := url.Values{}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		value, _ := in.Attr("value")
		fields.Set(name, value)
	})
	if len(fields) == 0 {
		return "", nil, &moodle.ParseError{Page: "idp relay", Missing: "form inputs"}
	}
	return action, fields, nil
}

// extractSesskey tries an ordered list of strategies against the landing
// page; the first one producing a value wins. The list encodes knowledge of
// one specific page format, so it stays short: the logout link, then a raw
// scan for the delimited token.
func extractSesskey(body []byte, sitePrefix string) (string, bool) {
	for _, strategy := range []func([]byte, string) (string, bool){
		sesskeyFromLogoutLink,
		sesskeyFromRawScan,
	} {
		if key, ok := strategy(body, sitePrefix); ok {
			return key, true
		}
	}
	return "", false
}

func sesskeyFromLogoutLink(body []byte, sitePrefix string) (string, bool) {
	re := regexp.MustCompile(regexp.QuoteMeta(sitePrefix+"/login/logout.php?sesskey=") + `(\w+)`)
	m := re.FindSubmatch(body)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// sesskeyFromRawScan finds the first "sesskey" occurrence and returns the
// text between the second and third quote after it, which covers both the
// JSON config blob and inline form fields.
func sesskeyFromRawScan(body []byte, _ string) (string, bool) {
	idx := bytes.Index(body, []byte("sesskey"))
	if idx < 0 {
		return "", false
	}
	rest := body[idx:]
	var key []byte
	quotes := 0
	for _, b := range rest {
		if b == '"' {
			quotes++
			if quotes == 3 {
				break
			}
			continue
		}
		if quotes == 2 {
			key = append(key, b)
		}
	}
	if quotes < 3 || len(key) == 0 {
		return "", false
	}
	return string(key), true
}

func extractUserID(body []byte, sitePrefix string) (int64, bool) {
	re := regexp.MustCompile(regexp.QuoteMeta(sitePrefix+"/message/notificationpreferences.php?userid=") + `(\d+)`)
	m := re.FindSubmatch(body)
	if m == nil {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscan(string(m[1]), &id); err != nil {
		return 0, false
	}
	return id, true
}

// collapseCookies replaces the jar with exactly the two cookies later
// requests need: the Moodle session cookie kept as-is, and a shibboleth
// session cookie whose name carries a server-supplied suffix.
func (c *Client) collapseCookies() error {
	var moodleCookie *http.Cookie
	var shibSuffix, jsession string
	for _, ck := range c.http.Jar.Cookies(c.base) {
		switch {
		case strings.HasPrefix(ck.Name, "MoodleSession"):
			moodleCookie = &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"}
		case ck.Name == "shib_idp_session":
			shibSuffix = ck.Value
		case ck.Name == "JSESSIONID":
			jsession = ck.Value
		}
	}
	if moodleCookie == nil {
		return &moodle.ParseError{Page: "cookie jar", Missing: "MoodleSession cookie"}
	}
	if shibSuffix == "" || jsession == "" {
		return &moodle.ParseError{Page: "cookie jar", Missing: "shibboleth session cookies"}
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	jar.SetCookies(c.base, []*http.Cookie{
		moodleCookie,
		{Name: "_shibsession_" + shibSuffix, Value: "_" + jsession, Path: "/"},
	})
	c.http.Jar = jar
	return nil
}
