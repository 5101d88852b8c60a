package service

import (
	"log/slog"
	"os"

	"github.com/fixkar/hubble/domain/infra"
	"github.com/fixkar/hubble/domain/model"
)

// Permissions decides who counts as admin or creator for a ticket.
// The two roles gate everything: quick actions are admin-only, the
// edit modal is admin-or-creator, everyone else gets a read-only view.
type Permissions struct {
	ds infra.Datastore
}

func NewPermissions(ds infra.Datastore) *Permissions {
	return &Permissions{ds: ds}
}

func globalAdminIDs() []string {
	return model.ParseCSV(os.Getenv("ADMIN_USER_IDS"))
}

// IsAdmin checks the channel's configured admin list, falling back to
// the global ADMIN_USER_IDS list when the channel has none configured
// or the config lookup itself fails.
func (p *Permissions) IsAdmin(userID, channelID string) bool {
	admins := globalAdminIDs()

	cfg, err := p.ds.GetChannelConfig(channelID)
	if err != nil {
		slog.Error("GetChannelConfig failed, using global admin list", slog.Any("err", err), slog.String("channel", channelID))
	} else if cfg != nil && len(cfg.AdminIDs()) > 0 {
		admins = cfg.AdminIDs()
	}

	for _, id := range admins {
		if id == userID {
			return true
		}
	}
	return false
}

// IsCreator compares against the recovered creator user ID only. The
// display-name column is free text and must never satisfy an identity
// check.
func (p *Permissions) IsCreator(userID string, t *model.Ticket) bool {
	if t == nil || userID == "" {
		return false
	}
	return t.CreatorID() == userID
}
