package campaign

import (
	"time"

	"github.com/reachkit/reachkit/internal/models"
)

// Analytics aggregates a campaign's activity ledger into counts and rates
// over an optional date window. Rates are fractions of sent and are zero
// when nothing was sent.
func (s *Service) Analytics(orgID, id string, from, to *time.Time) (*models.CampaignAnalytics, error) {
	if _, err := s.Get(orgID, id); err != nil {
		return nil, err
	}

	counts, err := s.activities.CountsByCampaign(id, from, to)
	if err != nil {
		return nil, err
	}

	a := &models.CampaignAnalytics{
		Sent:         counts[models.ActivitySent],
		Delivered:    counts[models.ActivityDelivered],
		Read:         counts[models.ActivityRead],
		Failed:       counts[models.ActivityFailed],
		Bounced:      counts[models.ActivityBounced],
		Unsubscribed: counts[models.ActivityUnsubscribed],
	}
	if a.Sent > 0 {
		sent := float64(a.Sent)
		a.DeliveryRate = float64(a.Delivered) / sent
		a.ReadRate = float64(a.Read) / sent
		a.FailureRate = float64(a.Failed) / sent
		a.BounceRate = float64(a.Bounced) / sent
		a.UnsubscribeRate = float64(a.Unsubscribed) / sent
	}
	return a, nil
}
