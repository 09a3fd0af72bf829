package chat

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agencydesk/deskchat/pkg/wire"
)

// DirectoryAPI covers the REST endpoints backing the conversation directory.
// Satisfied by *rest.Client.
type DirectoryAPI interface {
	TeamMembers(ctx context.Context) ([]wire.TeamMember, error)
	Groups(ctx context.Context) ([]wire.Group, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (*wire.Group, error)
}

// Directory holds the selectable peers and groups. Loaded once after login;
// groups are appended locally on creation and on GROUP_CREATED broadcasts.
type Directory struct {
	api DirectoryAPI

	mu      sync.Mutex
	members []wire.TeamMember
	groups  []wire.Group
}

func NewDirectory(api DirectoryAPI) *Directory {
	return &Directory{api: api}
}

// Load fetches team members and groups in parallel.
func (d *Directory) Load(ctx context.Context) error {
	if d == nil || d.api == nil {
		return errors.New("chat: directory has no api")
	}

	var members []wire.TeamMember
	var groups []wire.Group

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		members, err = d.api.TeamMembers(ctx)
		return errors.Wrap(err, "chat: load team members")
	})
	eg.Go(func() error {
		var err error
		groups, err = d.api.Groups(ctx)
		return errors.Wrap(err, "chat: load groups")
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	d.mu.Lock()
	d.members = members
	d.groups = groups
	d.mu.Unlock()

	log.Debug().
		Str("component", "chat").
		Int("members", len(members)).
		Int("groups", len(groups)).
		Msg("directory loaded")
	return nil
}

// Members returns the team member list.
func (d *Directory) Members() []wire.TeamMember {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wire.TeamMember(nil), d.members...)
}

// Groups returns the group list.
func (d *Directory) Groups() []wire.Group {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wire.Group(nil), d.groups...)
}

// HasGroup reports whether the group is already known locally.
func (d *Directory) HasGroup(id string) bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasGroupLocked(id)
}

func (d *Directory) hasGroupLocked(id string) bool {
	for _, g := range d.groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

// AddGroup appends a group if it is not already known. It reports whether the
// group was new, which covers the GROUP_CREATED broadcast for a group this
// client created itself (already present, nothing to do).
func (d *Directory) AddGroup(g wire.Group) bool {
	if d == nil || g.ID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasGroupLocked(g.ID) {
		return false
	}
	d.groups = append(d.groups, g)
	return true
}

// CreateGroup creates a group via REST and records it locally. The server's
// GROUP_CREATED broadcast to this client is then a no-op.
func (d *Directory) CreateGroup(ctx context.Context, name string, memberIDs []string) (*wire.Group, error) {
	if d == nil || d.api == nil {
		return nil, errors.New("chat: directory has no api")
	}
	g, err := d.api.CreateGroup(ctx, name, memberIDs)
	if err != nil {
		return nil, errors.Wrapf(err, "chat: create group %q", name)
	}
	d.AddGroup(*g)
	return g, nil
}
