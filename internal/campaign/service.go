package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/reachkit/reachkit/internal/config"
	"github.com/reachkit/reachkit/internal/metrics"
	"github.com/reachkit/reachkit/internal/models"
	"github.com/reachkit/reachkit/internal/provider"
	"github.com/reachkit/reachkit/internal/repository"
)

// Sentinel errors for the lifecycle operations. Validation failures are
// distinct from conflicts so callers can decide whether a retry makes sense.
var (
	ErrNotFound            = errors.New("campaign not found")
	ErrInvalidState        = errors.New("invalid campaign state")
	ErrNoProvider          = errors.New("no verified provider configured")
	ErrNoRecipients        = errors.New("campaign has no recipients")
	ErrTemplateNotApproved = errors.New("template not approved")
)

// statusCheckEvery is how many recipients are dispatched between cooperative
// cancellation checks. In-flight sends always run to completion.
const statusCheckEvery = 50

// Scheduler enqueues a future dispatch run and purges queued runs when a
// campaign is torn down. Implemented by the queue-backed worker; nil
// disables scheduling.
type Scheduler interface {
	Schedule(campaignID, orgID string, runAt time.Time) error
	Unschedule(campaignID string) error
}

// AdapterFactory builds the gateway adapter for a provider configuration.
type AdapterFactory func(cfg *models.ProviderConfig, logger *slog.Logger, opts ...provider.Option) (provider.Adapter, error)

// Service drives the campaign lifecycle: CRUD, the state machine, and the
// send pipeline.
type Service struct {
	campaigns  *repository.CampaignRepository
	contacts   *repository.ContactRepository
	providers  *repository.ProviderRepository
	templates  *repository.TemplateRepository
	activities *repository.ActivityRepository
	history    *repository.HistoryRepository
	resolver   *Resolver
	scheduler  Scheduler
	logger     *slog.Logger
	cfg        config.DispatchConfig

	// newAdapter is swappable for tests
	newAdapter AdapterFactory
}

// Repos bundles the repositories the service reads and writes.
type Repos struct {
	Campaigns  *repository.CampaignRepository
	Contacts   *repository.ContactRepository
	Providers  *repository.ProviderRepository
	Templates  *repository.TemplateRepository
	Activities *repository.ActivityRepository
	History    *repository.HistoryRepository
}

func NewService(db Repos, cfg config.DispatchConfig, scheduler Scheduler, logger *slog.Logger) *Service {
	return &Service{
		campaigns:  db.Campaigns,
		contacts:   db.Contacts,
		providers:  db.Providers,
		templates:  db.Templates,
		activities: db.Activities,
		history:    db.History,
		resolver:   NewResolver(db.Campaigns, db.Contacts),
		scheduler:  scheduler,
		logger:     logger.With("component", "campaign"),
		cfg:        cfg,
		newAdapter: provider.New,
	}
}

// SetAdapterFactory overrides gateway adapter construction. Used by tests.
func (s *Service) SetAdapterFactory(f AdapterFactory) { s.newAdapter = f }

// SetScheduler attaches the queue-backed scheduler after construction. The
// worker needs the service to exist first, so wiring is two-phase.
func (s *Service) SetScheduler(sched Scheduler) { s.scheduler = sched }

// Create persists a new campaign in DRAFT, ignoring any caller-supplied
// status.
func (s *Service) Create(c *models.Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	return s.campaigns.Create(c)
}

// Get returns a campaign scoped to the organization.
func (s *Service) Get(orgID, id string) (*models.Campaign, error) {
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.OrgID != orgID {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns the organization's campaigns with the total match count.
func (s *Service) List(orgID string, filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	return s.campaigns.List(orgID, filter)
}

// Update saves campaign mutations. Status is not writable here; the state
// machine owns it.
func (s *Service) Update(orgID string, c *models.Campaign) error {
	existing, err := s.Get(orgID, c.ID)
	if err != nil {
		return err
	}
	if existing.Status.Terminal() || existing.Status == models.CampaignSending {
		return ErrInvalidState
	}
	c.OrgID = existing.OrgID
	c.Status = existing.Status
	return s.campaigns.Update(c)
}

// Delete removes a campaign. Deleting mid-send is refused.
func (s *Service) Delete(orgID, id string) error {
	c, err := s.Get(orgID, id)
	if err != nil {
		return err
	}
	if c.Status == models.CampaignSending {
		return ErrInvalidState
	}
	if err := s.campaigns.Delete(id); err != nil {
		return err
	}
	s.unschedule(id)
	return nil
}

// unschedule drops any queued dispatch jobs for a torn-down campaign. Best
// effort: a leftover job also dies on the worker's state check.
func (s *Service) unschedule(id string) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Unschedule(id); err != nil {
		s.logger.Warn("failed to purge queued jobs", "campaign_id", id, "error", err)
	}
}

// SetAssociations replaces a campaign's recipient sources.
func (s *Service) SetAssociations(id string, listIDs, segmentIDs []string) error {
	if err := s.campaigns.SetLists(id, listIDs); err != nil {
		return err
	}
	return s.campaigns.SetSegments(id, segmentIDs)
}

// Duplicate creates a fresh DRAFT copy of a campaign: name (suffixed),
// content, template and provider references, and the list/segment
// associations. Activities, history and status never carry over.
func (s *Service) Duplicate(orgID, id string) (*models.Campaign, error) {
	src, err := s.Get(orgID, id)
	if err != nil {
		return nil, err
	}

	dup := &models.Campaign{
		OrgID:      src.OrgID,
		Name:       src.Name + " (copy)",
		Content:    src.Content,
		TemplateID: src.TemplateID,
		ProviderID: src.ProviderID,
	}
	if err := s.campaigns.Create(dup); err != nil {
		return nil, err
	}

	listIDs, err := s.campaigns.ListIDs(id)
	if err != nil {
		return nil, err
	}
	if err := s.campaigns.SetLists(dup.ID, listIDs); err != nil {
		return nil, err
	}
	segmentIDs, err := s.campaigns.SegmentIDs(id)
	if err != nil {
		return nil, err
	}
	if err := s.campaigns.SetSegments(dup.ID, segmentIDs); err != nil {
		return nil, err
	}

	return dup, nil
}

// Schedule moves a DRAFT campaign to SCHEDULED for a future run.
func (s *Service) Schedule(orgID, id string, at time.Time) error {
	c, err := s.Get(orgID, id)
	if err != nil {
		return err
	}
	if at.Before(time.Now()) {
		return fmt.Errorf("scheduled time is in the past")
	}
	if err := s.campaigns.TransitionStatus(id, models.CampaignDraft, models.CampaignScheduled); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrInvalidState
		}
		return err
	}
	if err := s.campaigns.SetScheduledAt(id, at); err != nil {
		return err
	}
	if s.scheduler != nil {
		if err := s.scheduler.Schedule(id, c.OrgID, at); err != nil {
			return fmt.Errorf("enqueue scheduled run: %w", err)
		}
	}
	return nil
}

// Pause suspends a SCHEDULED or SENDING campaign.
func (s *Service) Pause(orgID, id string) error {
	if _, err := s.Get(orgID, id); err != nil {
		return err
	}
	for _, from := range []models.CampaignStatus{models.CampaignScheduled, models.CampaignSending} {
		err := s.campaigns.TransitionStatus(id, from, models.CampaignPaused)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return ErrInvalidState
}

// Resume returns a PAUSED campaign to SCHEDULED.
func (s *Service) Resume(orgID, id string) error {
	c, err := s.Get(orgID, id)
	if err != nil {
		return err
	}
	if err := s.campaigns.TransitionStatus(id, models.CampaignPaused, models.CampaignScheduled); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrInvalidState
		}
		return err
	}
	if s.scheduler != nil && c.ScheduledAt != nil {
		at := *c.ScheduledAt
		if at.Before(time.Now()) {
			at = time.Now()
		}
		return s.scheduler.Schedule(id, c.OrgID, at)
	}
	return nil
}

// Cancel moves any non-terminal campaign to CANCELLED. A campaign already
// SENDING stops scheduling further recipients at the next cooperative check;
// in-flight sends run to completion.
func (s *Service) Cancel(orgID, id string) error {
	c, err := s.Get(orgID, id)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return ErrInvalidState
	}
	if err := s.campaigns.TransitionStatus(id, c.Status, models.CampaignCancelled); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrInvalidState
		}
		return err
	}
	s.unschedule(id)
	return nil
}

// RecipientResult is the per-recipient outcome of one dispatch run. Body is
// the message as rendered for this recipient.
type RecipientResult struct {
	ContactID string          `json:"contact_id"`
	Address   string          `json:"address"`
	Body      string          `json:"body,omitempty"`
	Result    provider.Result `json:"result"`
}

// SendSummary is the aggregate outcome of one dispatch run. Per-recipient
// failures are reported here, never raised as errors.
type SendSummary struct {
	CampaignID      string            `json:"campaign_id"`
	RecipientsCount int               `json:"recipients_count"`
	SuccessCount    int               `json:"success_count"`
	FailureCount    int               `json:"failure_count"`
	Results         []RecipientResult `json:"results"`
}

// Send dispatches a DRAFT campaign immediately. All validation happens
// before any state change or network call; of two concurrent calls exactly
// one proceeds.
func (s *Service) Send(ctx context.Context, orgID, id string) (*SendSummary, error) {
	return s.dispatch(ctx, orgID, id, models.CampaignDraft)
}

// SendScheduled runs a campaign the queue worker picked up. Identical to
// Send except the expected starting state.
func (s *Service) SendScheduled(ctx context.Context, orgID, id string) (*SendSummary, error) {
	return s.dispatch(ctx, orgID, id, models.CampaignScheduled)
}

func (s *Service) dispatch(ctx context.Context, orgID, id string, from models.CampaignStatus) (*SendSummary, error) {
	c, err := s.Get(orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != from {
		return nil, ErrInvalidState
	}

	pcfg, err := s.providers.GetByOrg(c.OrgID)
	if err != nil {
		return nil, err
	}
	if pcfg == nil || pcfg.VerificationStatus != models.VerificationVerified {
		return nil, ErrNoProvider
	}

	var tpl *models.Template
	if c.TemplateID != "" {
		tpl, err = s.templates.GetByID(c.TemplateID)
		if err != nil {
			return nil, err
		}
		if tpl == nil || tpl.Status != models.TemplateApproved {
			return nil, ErrTemplateNotApproved
		}
	}

	recipients, err := s.resolver.Resolve(id, pcfg.Type)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	adapter, err := s.newAdapter(pcfg, s.logger, provider.WithTimeout(s.cfg.SendTimeout))
	if err != nil {
		return nil, fmt.Errorf("build provider adapter: %w", err)
	}

	// Point of no return: exactly one concurrent caller wins this CAS.
	if err := s.campaigns.TransitionStatus(id, from, models.CampaignSending); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	if c.ScheduledAt == nil {
		if err := s.campaigns.SetScheduledAt(id, time.Now()); err != nil {
			s.logger.Warn("failed to stamp schedule time", "campaign_id", id, "error", err)
		}
	}

	s.logger.Info("dispatch started",
		"campaign_id", id,
		"provider", pcfg.Type,
		"recipients", len(recipients))

	results := s.fanOut(ctx, c, tpl, pcfg.Type, adapter, recipients)
	summary := s.record(c, results)

	if err := s.campaigns.MarkSent(id); err != nil {
		// Cancelled or paused mid-run; the partial results are already
		// recorded and the status stays where the operator put it.
		s.logger.Warn("campaign not marked sent", "campaign_id", id, "error", err)
	} else {
		metrics.IncCampaignsSent(string(pcfg.Type))
	}

	s.logger.Info("dispatch finished",
		"campaign_id", id,
		"success", summary.SuccessCount,
		"failed", summary.FailureCount)

	return summary, nil
}

// fanOut sends to every recipient concurrently, bounded by a semaphore and a
// shared provider rate limiter. One recipient's failure never stops the
// rest. Result order matches recipient order.
func (s *Service) fanOut(ctx context.Context, c *models.Campaign, tpl *models.Template, ptype models.ProviderType, adapter provider.Adapter, recipients []models.Recipient) []RecipientResult {
	concurrency := s.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Limit(s.cfg.ProviderQPS), s.cfg.ProviderBurst)

	results := make([]RecipientResult, len(recipients))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	cancelled := false
	for i, r := range recipients {
		if i > 0 && i%statusCheckEvery == 0 {
			cancelled = s.stopRequested(c.ID)
		}
		if cancelled || ctx.Err() != nil {
			results[i] = RecipientResult{
				ContactID: r.ContactID,
				Address:   r.Address,
				Body:      renderedBody(s.buildMessage(c, tpl, r), c),
				Result: provider.Result{Error: &provider.Error{
					Code:    provider.CodeTimeout,
					Message: "dispatch stopped before send",
				}},
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, r models.Recipient) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := limiter.Wait(ctx); err != nil {
				results[i] = RecipientResult{ContactID: r.ContactID, Address: r.Address,
					Result: provider.Result{Error: &provider.Error{
						Code:    provider.CodeTimeout,
						Message: "rate limiter wait cancelled",
					}}}
				return
			}

			sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
			defer cancel()

			msg := s.buildMessage(c, tpl, r)

			start := time.Now()
			res := adapter.SendMessage(sendCtx, msg)
			metrics.ObserveSendDuration(string(ptype), time.Since(start).Seconds())
			if res.Success {
				metrics.IncMessagesSent(string(ptype))
			} else if res.Error != nil {
				metrics.IncMessagesFailed(string(ptype), res.Error.Code)
			}

			results[i] = RecipientResult{ContactID: r.ContactID, Address: r.Address, Body: renderedBody(msg, c), Result: res}
		}(i, r)
	}
	wg.Wait()

	return results
}

// stopRequested reports whether the campaign left SENDING while the run was
// in progress (cancel or pause).
func (s *Service) stopRequested(id string) bool {
	c, err := s.campaigns.GetByID(id)
	if err != nil || c == nil {
		return false
	}
	return c.Status != models.CampaignSending
}

// record writes the activity and history batches for a finished run. One
// insert per collection, not per recipient.
func (s *Service) record(c *models.Campaign, results []RecipientResult) *SendSummary {
	summary := &SendSummary{
		CampaignID:      c.ID,
		RecipientsCount: len(results),
		Results:         results,
	}

	activities := make([]models.Activity, 0, len(results))
	records := make([]models.History, 0, len(results))
	now := time.Now()

	for _, rr := range results {
		meta := models.ActivityMetadata{
			ProviderMessageID: rr.Result.MessageID,
			Cost:              rr.Result.Cost,
		}
		typ := models.ActivitySent
		hstatus := models.HistorySent
		herr := ""
		if rr.Result.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
			typ = models.ActivityFailed
			hstatus = models.HistoryFailed
			if rr.Result.Error != nil {
				meta.ErrorCode = rr.Result.Error.Code
				meta.ErrorMessage = rr.Result.Error.Message
				herr = rr.Result.Error.Message
			}
		}

		raw, _ := json.Marshal(meta)
		activities = append(activities, models.Activity{
			ID:         uuid.New().String(),
			CampaignID: c.ID,
			ContactID:  rr.ContactID,
			Type:       typ,
			Metadata:   raw,
			CreatedAt:  now,
		})
		records = append(records, models.History{
			ID:                uuid.New().String(),
			OrgID:             c.OrgID,
			CampaignID:        c.ID,
			ContactID:         rr.ContactID,
			Address:           rr.Address,
			Body:              rr.Body,
			ProviderMessageID: rr.Result.MessageID,
			Status:            hstatus,
			Error:             herr,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	if err := s.activities.CreateBatch(activities); err != nil {
		s.logger.Error("activity batch write failed", "campaign_id", c.ID, "error", err)
	}
	if err := s.history.CreateBatch(records); err != nil {
		s.logger.Error("history batch write failed", "campaign_id", c.ID, "error", err)
	}

	return summary
}

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// buildMessage renders the per-recipient message. Template campaigns carry
// the template name and per-recipient parameter values; free-text campaigns
// get placeholder substitution in the body.
func (s *Service) buildMessage(c *models.Campaign, tpl *models.Template, r models.Recipient) provider.Message {
	if tpl != nil {
		params := make([]string, 0, len(tpl.Variables))
		for _, v := range tpl.Variables {
			params = append(params, placeholderValue(v, r))
		}
		return provider.Message{
			To:             r.Address,
			TemplateName:   tpl.Name,
			TemplateLang:   tpl.Language,
			TemplateParams: params,
		}
	}

	body := placeholderRe.ReplaceAllStringFunc(c.Content, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v := placeholderValue(name, r); v != "" {
			return v
		}
		return m
	})
	return provider.Message{To: r.Address, Body: body}
}

// renderedBody is what a history record stores as the message body. Template
// sends are rendered by the provider, so the local record keeps the campaign
// content.
func renderedBody(msg provider.Message, c *models.Campaign) string {
	if msg.TemplateName != "" {
		return c.Content
	}
	return msg.Body
}

func placeholderValue(name string, r models.Recipient) string {
	switch name {
	case "name":
		return r.Name
	case "address", "phone", "email":
		return r.Address
	default:
		return ""
	}
}
