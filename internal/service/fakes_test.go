package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
)

// memStore backs all three repository interfaces with maps.
type memStore struct {
	mu         sync.Mutex
	campaigns  []*model.Campaign
	recipients []*model.Recipient
	snapshots  map[int][]int
	logs       []*model.DeliveryLog
}

type memCampaigns struct{ *memStore }
type memRecipients struct{ *memStore }
type memLogs struct{ *memStore }

func (s *memStore) findCampaign(id int) *model.Campaign {
	for _, c := range s.campaigns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m memCampaigns) Create(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = len(m.campaigns) + 1
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	cp := *c
	m.campaigns = append(m.campaigns, &cp)
	return nil
}

func (m memCampaigns) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findCampaign(id)
	if c == nil {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

// ListCampaigns returns newest first, like the SQL implementation.
func (m memCampaigns) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var filtered []*model.Campaign
	for i := len(m.campaigns) - 1; i >= 0; i-- {
		c := m.campaigns[i]
		if status != "" && string(c.Status) != status {
			continue
		}
		cp := *c
		filtered = append(filtered, &cp)
	}
	total := len(filtered)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (m memCampaigns) BeginDispatch(ctx context.Context, id int, recipientIDs []int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findCampaign(id)
	if c == nil || !c.Status.Sendable() {
		return false, nil
	}
	now := time.Now()
	c.Status = model.CampaignInProgress
	c.RecipientTotal = len(recipientIDs)
	c.DispatchedAt = &now
	if m.snapshots == nil {
		m.snapshots = map[int][]int{}
	}
	m.snapshots[id] = append([]int(nil), recipientIDs...)
	return true, nil
}

func (m memCampaigns) SnapshotIDs(ctx context.Context, id int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.snapshots[id]...), nil
}

func (m memCampaigns) MarkCompleted(ctx context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findCampaign(id)
	if c == nil || c.Status != model.CampaignInProgress {
		return false, nil
	}
	now := time.Now()
	c.Status = model.CampaignCompleted
	c.CompletedAt = &now
	return true, nil
}

func (m memCampaigns) ListStalled(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Campaign
	for _, c := range m.campaigns {
		if c.Status == model.CampaignInProgress && c.DispatchedAt != nil && c.DispatchedAt.Before(before) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memRecipients) Create(ctx context.Context, r *model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.recipients {
		if existing.Email == r.Email {
			existing.Name = r.Name
			r.ID, r.Status, r.CreatedAt = existing.ID, existing.Status, existing.CreatedAt
			return nil
		}
	}
	r.ID = len(m.recipients) + 1
	r.CreatedAt = time.Now()
	cp := *r
	m.recipients = append(m.recipients, &cp)
	return nil
}

func (m memRecipients) GetByIDs(ctx context.Context, ids []int) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*model.Recipient
	for _, r := range m.recipients {
		if want[r.ID] {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memRecipients) ListSubscribedIDs(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int{}
	for _, r := range m.recipients {
		if r.Status == model.Subscribed {
			ids = append(ids, r.ID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (m memRecipients) CountSubscribed(ctx context.Context) (int, error) {
	ids, err := m.ListSubscribedIDs(ctx)
	return len(ids), err
}

func (m memRecipients) Unsubscribe(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients {
		if r.ID == id {
			r.Status = model.Unsubscribed
			return nil
		}
	}
	return appErrors.ErrRecipientNotFound
}

func (m memLogs) BulkInsert(ctx context.Context, logs []*model.DeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[[2]int]bool{}
	for _, l := range m.logs {
		seen[[2]int{l.CampaignID, l.SnapshotRecipientID}] = true
	}
	for _, l := range logs {
		key := [2]int{l.CampaignID, l.SnapshotRecipientID}
		if seen[key] {
			continue
		}
		seen[key] = true
		cp := *l
		cp.ID = len(m.logs) + 1
		m.logs = append(m.logs, &cp)
	}
	return nil
}

func (m memLogs) forCampaign(id int) []*model.DeliveryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DeliveryLog
	for _, l := range m.logs {
		if l.CampaignID == id {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

func (m memLogs) CountByCampaign(ctx context.Context, id int) (int, error) {
	return len(m.forCampaign(id)), nil
}

func (m memLogs) StatsByCampaign(ctx context.Context, id int) (model.DeliveryStats, error) {
	var s model.DeliveryStats
	for _, l := range m.forCampaign(id) {
		s.Processed++
		if l.Status == model.DeliverySent {
			s.Sent++
		} else {
			s.Failed++
		}
	}
	return s, nil
}

func (m memLogs) LoggedRecipientIDs(ctx context.Context, id int, ids []int) (map[int]bool, error) {
	out := map[int]bool{}
	want := map[int]bool{}
	for _, rid := range ids {
		want[rid] = true
	}
	for _, l := range m.forCampaign(id) {
		if want[l.SnapshotRecipientID] {
			out[l.SnapshotRecipientID] = true
		}
	}
	return out, nil
}

func (m memLogs) StreamByCampaign(ctx context.Context, id int, fn func(*model.DeliveryLog) error) error {
	for _, l := range m.forCampaign(id) {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

// ListByCampaign returns newest first.
func (m memLogs) ListByCampaign(ctx context.Context, id, offset, limit int) ([]*model.DeliveryLog, int, error) {
	all := m.forCampaign(id)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	total := len(all)
	if offset >= total {
		return []*model.DeliveryLog{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type publishCall struct {
	topic   string
	payload any
	opts    int
}

type stubQueue struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (q *stubQueue) Publish(ctx context.Context, topic string, payload any, opts ...queue.PublishOption) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.calls = append(q.calls, publishCall{topic: topic, payload: payload, opts: len(opts)})
	return nil
}

func (q *stubQueue) Subscribe(string, queue.Handler) error { return nil }
