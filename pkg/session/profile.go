package session

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Profile is the on-disk client configuration (endpoints plus the identity the
// backend issued at login). Loaded by the CLI; flags and environment override.
type Profile struct {
	UserID      string `yaml:"user_id"`
	DisplayName string `yaml:"display_name"`
	Token       string `yaml:"token"`

	APIBaseURL      string `yaml:"api_base_url"`
	ChatSocketURL   string `yaml:"chat_socket_url"`
	NotifySocketURL string `yaml:"notify_socket_url"`
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "session: read profile %s", path)
	}
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrapf(err, "session: parse profile %s", path)
	}
	return &p, nil
}

// Session builds the per-login session object from the profile.
func (p *Profile) Session() (*Session, error) {
	s, err := New(p.UserID, p.DisplayName, p.Token)
	if err != nil {
		return nil, err
	}
	s.APIBaseURL = p.APIBaseURL
	s.ChatSocketURL = p.ChatSocketURL
	s.NotifySocketURL = p.NotifySocketURL
	return s, nil
}
