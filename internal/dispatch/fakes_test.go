package dispatch

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/mailer"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
)

// --- Mock persistence ---

type fakeStore struct {
	mu         sync.Mutex
	campaigns  map[int]*model.Campaign
	recipients map[int]*model.Recipient
	snapshots  map[int][]int
	logs       []*model.DeliveryLog

	// bulkInsertFailures makes the next n BulkInsert calls fail.
	bulkInsertFailures int
	getByIDsErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns:  map[int]*model.Campaign{},
		recipients: map[int]*model.Recipient{},
		snapshots:  map[int][]int{},
	}
}

func (s *fakeStore) addCampaign(c model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	s.campaigns[c.ID] = &c
}

// addRecipients creates n subscribed recipients with ids 1..n.
func (s *fakeStore) addRecipients(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 1; i <= n; i++ {
		s.recipients[i] = &model.Recipient{
			ID:     i,
			Email:  emailFor(i),
			Status: model.Subscribed,
		}
	}
}

func emailFor(id int) string {
	return "user" + strconv.Itoa(id) + "@example.com"
}

func (s *fakeStore) campaign(id int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *fakeStore) logsFor(campaignID int) []*model.DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.DeliveryLog
	for _, l := range s.logs {
		if l.CampaignID == campaignID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

type fakeCampaigns struct{ *fakeStore }

func (f fakeCampaigns) Create(ctx context.Context, c *model.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = len(f.campaigns) + 1
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f fakeCampaigns) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (f fakeCampaigns) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}

func (f fakeCampaigns) BeginDispatch(ctx context.Context, id int, recipientIDs []int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || !c.Status.Sendable() {
		return false, nil
	}
	now := time.Now()
	c.Status = model.CampaignInProgress
	c.RecipientTotal = len(recipientIDs)
	c.DispatchedAt = &now
	f.snapshots[id] = append([]int(nil), recipientIDs...)
	return true, nil
}

func (f fakeCampaigns) SnapshotIDs(ctx context.Context, id int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.snapshots[id]...), nil
}

func (f fakeCampaigns) MarkCompleted(ctx context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.Status != model.CampaignInProgress {
		return false, nil
	}
	now := time.Now()
	c.Status = model.CampaignCompleted
	c.CompletedAt = &now
	return true, nil
}

func (f fakeCampaigns) ListStalled(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
	return nil, nil
}

type fakeRecipients struct{ *fakeStore }

func (f fakeRecipients) Create(ctx context.Context, r *model.Recipient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = len(f.recipients) + 1
	cp := *r
	f.recipients[r.ID] = &cp
	return nil
}

func (f fakeRecipients) GetByIDs(ctx context.Context, ids []int) ([]*model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getByIDsErr != nil {
		return nil, f.getByIDsErr
	}
	var out []*model.Recipient
	for _, id := range ids {
		if r, ok := f.recipients[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeRecipients) ListSubscribedIDs(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := []int{}
	for id, r := range f.recipients {
		if r.Status == model.Subscribed {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (f fakeRecipients) CountSubscribed(ctx context.Context) (int, error) {
	ids, _ := f.ListSubscribedIDs(ctx)
	return len(ids), nil
}

func (f fakeRecipients) Unsubscribe(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipients[id]
	if !ok {
		return appErrors.ErrRecipientNotFound
	}
	r.Status = model.Unsubscribed
	return nil
}

type fakeLogs struct{ *fakeStore }

var errInsert = errors.New("connection reset by peer")

func (f fakeLogs) BulkInsert(ctx context.Context, logs []*model.DeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkInsertFailures > 0 {
		f.bulkInsertFailures--
		return errInsert
	}
	// Mirrors the unique (campaign_id, snapshot_recipient_id) index.
	seen := map[[2]int]bool{}
	for _, l := range f.logs {
		seen[[2]int{l.CampaignID, l.SnapshotRecipientID}] = true
	}
	for _, l := range logs {
		key := [2]int{l.CampaignID, l.SnapshotRecipientID}
		if seen[key] {
			continue
		}
		seen[key] = true
		cp := *l
		cp.ID = len(f.logs) + 1
		f.logs = append(f.logs, &cp)
	}
	return nil
}

func (f fakeLogs) CountByCampaign(ctx context.Context, campaignID int) (int, error) {
	return len(f.logsFor(campaignID)), nil
}

func (f fakeLogs) StatsByCampaign(ctx context.Context, campaignID int) (model.DeliveryStats, error) {
	var s model.DeliveryStats
	for _, l := range f.logsFor(campaignID) {
		s.Processed++
		if l.Status == model.DeliverySent {
			s.Sent++
		} else {
			s.Failed++
		}
	}
	return s, nil
}

func (f fakeLogs) LoggedRecipientIDs(ctx context.Context, campaignID int, ids []int) (map[int]bool, error) {
	want := map[int]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[int]bool{}
	for _, l := range f.logsFor(campaignID) {
		if want[l.SnapshotRecipientID] {
			out[l.SnapshotRecipientID] = true
		}
	}
	return out, nil
}

func (f fakeLogs) StreamByCampaign(ctx context.Context, campaignID int, fn func(*model.DeliveryLog) error) error {
	for _, l := range f.logsFor(campaignID) {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (f fakeLogs) ListByCampaign(ctx context.Context, campaignID, offset, limit int) ([]*model.DeliveryLog, int, error) {
	all := f.logsFor(campaignID)
	return all, len(all), nil
}

// --- Mock queue ---

type publishedJob struct {
	topic   string
	payload any
}

type recordingQueue struct {
	mu        sync.Mutex
	published []publishedJob
	err       error
}

func (q *recordingQueue) Publish(ctx context.Context, topic string, payload any, opts ...queue.PublishOption) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, publishedJob{topic: topic, payload: payload})
	return nil
}

func (q *recordingQueue) Subscribe(topic string, handler queue.Handler) error { return nil }

func (q *recordingQueue) byTopic(topic string) []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []any
	for _, p := range q.published {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

// --- wiring ---

type harness struct {
	store  *fakeStore
	queue  *recordingQueue
	mailer *mailer.Recorder
	p      *Pipeline
}

func newHarness(cfg Config) *harness {
	h := &harness{
		store:  newFakeStore(),
		queue:  &recordingQueue{},
		mailer: &mailer.Recorder{FailFor: map[string]error{}},
	}
	h.p = New(h.deps(h.queue), cfg)
	return h
}

func (h *harness) deps(q queue.Queue) Deps {
	return Deps{
		Campaigns:  fakeCampaigns{h.store},
		Recipients: fakeRecipients{h.store},
		Logs:       fakeLogs{h.store},
		Queue:      q,
		Mailer:     h.mailer,
		Log:        zerolog.Nop(),
	}
}
