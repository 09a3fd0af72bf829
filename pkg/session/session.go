// Package session carries the authenticated identity and endpoint set for one
// login. A Session is constructed after login, passed explicitly to every
// component that needs it, and discarded on logout. There is no ambient
// module-level auth state.
package session

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Session is the per-login context object.
type Session struct {
	UserID      string
	DisplayName string
	AvatarURL   string

	// Token is the bearer credential. It is appended to socket URLs as a
	// query parameter at connect time; there is no per-frame auth.
	Token string

	APIBaseURL      string
	ChatSocketURL   string
	NotifySocketURL string
}

// New validates the minimum a session needs to be usable.
func New(userID, displayName, token string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session: empty user id")
	}
	return &Session{UserID: userID, DisplayName: displayName, Token: token}, nil
}

// Authenticated reports whether the session carries a credential. Socket
// connects are a logged no-op without one.
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

// SocketURL appends the bearer token to a socket endpoint.
func (s *Session) SocketURL(base string) (string, error) {
	if s == nil {
		return "", errors.New("session: nil session")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "session: bad socket url %q", base)
	}
	q := u.Query()
	q.Set("token", s.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
