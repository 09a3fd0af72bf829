package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketURLAppendsToken(t *testing.T) {
	s, err := New("u1", "Ada", "secret")
	require.NoError(t, err)
	require.True(t, s.Authenticated())

	u, err := s.SocketURL("ws://example.test/ws/chat")
	require.NoError(t, err)
	require.Equal(t, "ws://example.test/ws/chat?token=secret", u)
}

func TestUnauthenticatedSession(t *testing.T) {
	s, err := New("u1", "Ada", "")
	require.NoError(t, err)
	require.False(t, s.Authenticated())

	_, err = New("", "Ada", "secret")
	require.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
user_id: u1
display_name: Ada
token: secret
api_base_url: http://example.test/api
chat_socket_url: ws://example.test/ws/chat
notify_socket_url: ws://example.test/ws/notifications
`), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)

	s, err := p.Session()
	require.NoError(t, err)
	require.Equal(t, "u1", s.UserID)
	require.Equal(t, "http://example.test/api", s.APIBaseURL)
	require.Equal(t, "ws://example.test/ws/notifications", s.NotifySocketURL)
}
