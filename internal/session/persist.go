package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"

	"golang.org/x/crypto/pbkdf2"
)

// The salt is fixed: the blob lives next to the config of a single user and
// the key is derived from that user's password.
const (
	persistSalt       = "moodle-mirror"
	persistIterations = 100_000
	persistKeyLen     = 32
)

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type savedSession struct {
	Cookies []savedCookie `json:"cookies"`
	Sesskey string        `json:"sesskey"`
	UserID  int64         `json:"userid"`
}

func deriveKey(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(persistSalt), persistIterations, persistKeyLen, sha256.New)
}

// Persist encrypts the current session state (cookies, session key, user
// id) under a key derived from the user's password. The caller stores the
// blob; the session layer never touches the config store itself.
func (c *Client) Persist(password string) ([]byte, error) {
	c.mu.RLock()
	state := savedSession{Sesskey: c.sesskey, UserID: c.userid}
	for _, ck := range c.http.Jar.Cookies(c.base) {
		state.Cookies = append(state.Cookies, savedCookie{Name: ck.Name, Value: ck.Value})
	}
	c.mu.RUnlock()

	if state.Sesskey == "" {
		return nil, errors.New("session: nothing to persist")
	}
	plain, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(deriveKey(password))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// Restore installs a previously persisted session without a network round
// trip. Any decode or verification failure returns false, in which case a
// full Login is required.
func (c *Client) Restore(blob []byte, password string) bool {
	block, err := aes.NewCipher(deriveKey(password))
	if err != nil {
		return false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return false
	}
	if len(blob) < gcm.NonceSize() {
		return false
	}
	plain, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil {
		return false
	}
	var state savedSession
	if err := json.Unmarshal(plain, &state); err != nil {
		return false
	}
	if state.Sesskey == "" || len(state.Cookies) == 0 {
		return false
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return false
	}
	cookies := make([]*http.Cookie, 0, len(state.Cookies))
	for _, ck := range state.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	jar.SetCookies(c.base, cookies)

	c.mu.Lock()
	c.http.Jar = jar
	c.sesskey = state.Sesskey
	c.userid = state.UserID
	c.mu.Unlock()
	return true
}
