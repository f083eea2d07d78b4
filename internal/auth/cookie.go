package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	CookieName   = "srtgo_session"
	cookieMaxAge = 14 * 24 * time.Hour
)

type sessionValue struct {
	UID int64
	V   int
}

// Cookies issues and reads the signed, encrypted session cookie.
type Cookies struct {
	sc *securecookie.SecureCookie
}

func NewCookies(hashKey, blockKey []byte) *Cookies {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(cookieMaxAge.Seconds()))
	return &Cookies{sc: sc}
}

func (c *Cookies) SetSession(w http.ResponseWriter, r *http.Request, userID int64) error {
	encoded, err := c.sc.Encode(CookieName, sessionValue{UID: userID, V: 1})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(cookieMaxAge.Seconds()),
	})
	return nil
}

func (c *Cookies) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// UserID returns the user carried by the request's session cookie.
func (c *Cookies) UserID(r *http.Request) (int64, bool) {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return 0, false
	}
	var v sessionValue
	if err := c.sc.Decode(CookieName, ck.Value, &v); err != nil || v.UID <= 0 {
		return 0, false
	}
	return v.UID, true
}
