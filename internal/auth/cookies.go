package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	// SessionCookieName names the signed cookie holding the session token
	SessionCookieName = "secure_login_session"
	// RememberCookieName names the remember-me cookie
	RememberCookieName = "remember_token"

	sessionTokenValue = "token"
)

// CookieManager writes the session and remember-me cookies. The session
// cookie carries only the opaque token, signed by securecookie.
type CookieManager struct {
	store       *sessions.CookieStore
	forceSecure bool
}

// NewCookieManager creates a cookie manager signing with secret
func NewCookieManager(secret []byte, forceSecure bool) *CookieManager {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   0,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	return &CookieManager{store: store, forceSecure: forceSecure}
}

func (c *CookieManager) secure(r *http.Request) bool {
	return c.forceSecure || r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// Token returns the session token carried by the request, or ""
func (c *CookieManager) Token(r *http.Request) string {
	s, err := c.store.Get(r, SessionCookieName)
	if err != nil {
		return ""
	}
	token, _ := s.Values[sessionTokenValue].(string)
	return token
}

// SetToken writes the session cookie for token
func (c *CookieManager) SetToken(w http.ResponseWriter, r *http.Request, token string) error {
	// a cookie that fails to decode still yields a fresh session to write into
	s, _ := c.store.Get(r, SessionCookieName)
	s.Values[sessionTokenValue] = token
	s.Options.Secure = c.secure(r)
	s.Options.MaxAge = 0
	return s.Save(r, w)
}

// ClearToken expires the session cookie
func (c *CookieManager) ClearToken(w http.ResponseWriter, r *http.Request) error {
	s, _ := c.store.Get(r, SessionCookieName)
	s.Values = make(map[interface{}]interface{})
	s.Options.Secure = c.secure(r)
	s.Options.MaxAge = -1
	return s.Save(r, w)
}

// SetRemember writes the remember-me cookie
func (c *CookieManager) SetRemember(w http.ResponseWriter, r *http.Request, token *RememberToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     RememberCookieName,
		Value:    token.Value,
		Path:     "/",
		Expires:  token.ExpiresAt,
		MaxAge:   int(time.Until(token.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   c.secure(r),
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRemember overwrites the remember-me cookie with an elapsed expiry
func (c *CookieManager) ClearRemember(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     RememberCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure(r),
		SameSite: http.SameSiteStrictMode,
	})
}
