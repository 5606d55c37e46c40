package campaign

import (
	"fmt"

	"github.com/reachkit/reachkit/internal/models"
	"github.com/reachkit/reachkit/internal/provider"
	"github.com/reachkit/reachkit/internal/repository"
)

// Resolver turns a campaign's list and segment associations into a
// deduplicated set of dispatchable recipients.
type Resolver struct {
	campaigns *repository.CampaignRepository
	contacts  *repository.ContactRepository
}

func NewResolver(campaigns *repository.CampaignRepository, contacts *repository.ContactRepository) *Resolver {
	return &Resolver{campaigns: campaigns, contacts: contacts}
}

// Resolve returns the recipients for a campaign. The union of list members
// and segment members is deduplicated by contact id, then filtered: opted-out
// contacts and contacts without a usable address for the channel are dropped.
// A campaign with no associations resolves to an empty slice, not an error.
func (r *Resolver) Resolve(campaignID string, channel models.ProviderType) ([]models.Recipient, error) {
	listIDs, err := r.campaigns.ListIDs(campaignID)
	if err != nil {
		return nil, fmt.Errorf("load list associations: %w", err)
	}
	segmentIDs, err := r.campaigns.SegmentIDs(campaignID)
	if err != nil {
		return nil, fmt.Errorf("load segment associations: %w", err)
	}

	seen := make(map[string]struct{})
	var recipients []models.Recipient

	collect := func(contacts []models.Contact) {
		for _, c := range contacts {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			if c.OptedOut {
				continue
			}
			addr := addressFor(c, channel)
			if addr == "" {
				continue
			}
			recipients = append(recipients, models.Recipient{
				ContactID: c.ID,
				Name:      c.Name,
				Address:   addr,
			})
		}
	}

	if len(listIDs) > 0 {
		members, err := r.contacts.ListMembers(listIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve list members: %w", err)
		}
		collect(members)
	}
	if len(segmentIDs) > 0 {
		members, err := r.contacts.SegmentMembers(segmentIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve segment members: %w", err)
		}
		collect(members)
	}

	if recipients == nil {
		recipients = []models.Recipient{}
	}
	return recipients, nil
}

// addressFor picks the contact field matching the channel. Phone numbers are
// normalized; a phone that fails validation is treated as missing so it never
// reaches the gateway.
func addressFor(c models.Contact, channel models.ProviderType) string {
	switch channel {
	case models.ProviderSMTP:
		return c.Email
	default:
		if c.Phone == "" || !provider.ValidatePhone(c.Phone) {
			return ""
		}
		return provider.NormalizePhone(c.Phone)
	}
}
