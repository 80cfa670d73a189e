// Package storetest provides an in-memory implementation of the store
// interfaces for service and handler tests.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/courier/internal/models"
)

// Memory implements every store interface over maps guarded by one mutex.
// Errs injects failures by method name, e.g. Errs["ClaimQueuedEmail"].
type Memory struct {
	mu sync.Mutex

	Templates  map[int64]*models.EmailTemplate
	Recipients map[int64]*models.Recipient
	Emails     map[int64]*models.QueuedEmail
	Campaigns  map[int64]*models.BulkCampaign
	Log        []models.DeliveryLogEntry
	Errs       map[string]error

	nextEmailID    int64
	nextCampaignID int64
	nextLogID      int64
}

func NewMemory() *Memory {
	return &Memory{
		Templates:      make(map[int64]*models.EmailTemplate),
		Recipients:     make(map[int64]*models.Recipient),
		Emails:         make(map[int64]*models.QueuedEmail),
		Campaigns:      make(map[int64]*models.BulkCampaign),
		Errs:           make(map[string]error),
		nextEmailID:    1,
		nextCampaignID: 1,
		nextLogID:      1,
	}
}

// AddTemplate registers an active template and returns its id.
func (m *Memory) AddTemplate(id int64, name, subject, body string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Templates[id] = &models.EmailTemplate{ID: id, Name: name, Subject: subject, Body: body, IsActive: true}
	return id
}

// AddRecipient registers a recipient without loan data.
func (m *Memory) AddRecipient(id int64, email, firstName, lastName string) *models.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &models.Recipient{ID: id, Email: email, FirstName: firstName, LastName: lastName}
	m.Recipients[id] = r
	return r
}

// Email returns a copy of the queue row with id, or nil.
func (m *Memory) Email(id int64) *models.QueuedEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Emails[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// LogFor returns the delivery log entries written for queue row id.
func (m *Memory) LogFor(id int64) []models.DeliveryLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeliveryLogEntry
	for _, entry := range m.Log {
		if entry.QueuedEmailID == id {
			out = append(out, entry)
		}
	}
	return out
}

// PutEmail stores e as-is, assigning an id when it has none.
func (m *Memory) PutEmail(e models.QueuedEmail) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		e.ID = m.nextEmailID
	}
	if e.ID >= m.nextEmailID {
		m.nextEmailID = e.ID + 1
	}
	m.Emails[e.ID] = &e
	return e.ID
}

func (m *Memory) err(method string) error {
	if m.Errs == nil {
		return nil
	}
	return m.Errs[method]
}

// --- TemplateStore / RecipientStore ---

func (m *Memory) GetActiveTemplate(_ context.Context, id int64) (*models.EmailTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("GetActiveTemplate"); err != nil {
		return nil, err
	}
	t, ok := m.Templates[id]
	if !ok || !t.IsActive {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetRecipient(_ context.Context, id int64) (*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("GetRecipient"); err != nil {
		return nil, err
	}
	r, ok := m.Recipients[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

// --- QueueStore ---

func (m *Memory) CreateQueuedEmail(_ context.Context, p models.QueuedEmailCreateParams) (*models.QueuedEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("CreateQueuedEmail"); err != nil {
		return nil, err
	}
	now := time.Now()
	e := &models.QueuedEmail{
		ID:               m.nextEmailID,
		PublicID:         uuid.New(),
		TemplateID:       p.TemplateID,
		RecipientID:      p.RecipientID,
		CampaignID:       p.CampaignID,
		RecipientAddress: p.RecipientAddress,
		Subject:          p.Subject,
		Body:             p.Body,
		Status:           models.StatusPending,
		ScheduledAt:      p.ScheduledAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.nextEmailID++
	m.Emails[e.ID] = e
	cp := *e
	return &cp, nil
}

func (m *Memory) GetQueuedEmailByID(_ context.Context, id int64) (*models.QueuedEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Emails[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) ListDueQueuedEmails(_ context.Context, now time.Time, limit int) ([]models.QueuedEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ListDueQueuedEmails"); err != nil {
		return nil, err
	}
	var due []models.QueuedEmail
	for _, e := range m.Emails {
		if e.Status == models.StatusPending && !e.ScheduledAt.After(now) {
			due = append(due, *e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) ClaimQueuedEmail(_ context.Context, id int64, now time.Time) (*models.QueuedEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ClaimQueuedEmail"); err != nil {
		return nil, err
	}
	e, ok := m.Emails[id]
	if !ok || e.Status != models.StatusPending || e.ScheduledAt.After(now) {
		return nil, nil
	}
	e.Status = models.StatusProcessing
	e.UpdatedAt = now
	cp := *e
	return &cp, nil
}

func (m *Memory) processing(id int64) (*models.QueuedEmail, error) {
	e, ok := m.Emails[id]
	if !ok || e.Status != models.StatusProcessing {
		return nil, fmt.Errorf("email_queue row %d is not processing", id)
	}
	return e, nil
}

func (m *Memory) MarkQueuedEmailSent(_ context.Context, id int64, attempts int, sentAt time.Time, entry models.DeliveryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("MarkQueuedEmailSent"); err != nil {
		return err
	}
	e, err := m.processing(id)
	if err != nil {
		return err
	}
	e.Status = models.StatusSent
	e.Attempts = attempts
	e.LastError = ""
	t := sentAt
	e.SentAt = &t
	e.UpdatedAt = sentAt
	m.appendLog(entry)
	if entry.CampaignID != nil {
		if c, ok := m.Campaigns[*entry.CampaignID]; ok {
			c.SentCount++
		}
	}
	return nil
}

func (m *Memory) MarkQueuedEmailRetry(_ context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("MarkQueuedEmailRetry"); err != nil {
		return err
	}
	e, err := m.processing(id)
	if err != nil {
		return err
	}
	e.Status = models.StatusPending
	e.Attempts = attempts
	e.ScheduledAt = nextAttemptAt
	e.LastError = lastError
	return nil
}

func (m *Memory) MarkQueuedEmailFailed(_ context.Context, id int64, attempts int, lastError string, entry models.DeliveryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("MarkQueuedEmailFailed"); err != nil {
		return err
	}
	e, err := m.processing(id)
	if err != nil {
		return err
	}
	e.Status = models.StatusFailed
	e.Attempts = attempts
	e.LastError = lastError
	m.appendLog(entry)
	if entry.CampaignID != nil {
		if c, ok := m.Campaigns[*entry.CampaignID]; ok {
			c.FailedCount++
		}
	}
	return nil
}

func (m *Memory) appendLog(entry models.DeliveryLogEntry) {
	entry.ID = m.nextLogID
	m.nextLogID++
	m.Log = append(m.Log, entry)
}

func (m *Memory) CancelQueuedEmail(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("CancelQueuedEmail"); err != nil {
		return false, err
	}
	e, ok := m.Emails[id]
	if !ok || e.Status != models.StatusPending {
		return false, nil
	}
	e.Status = models.StatusCancelled
	return true, nil
}

func (m *Memory) ListQueuedEmails(_ context.Context, q models.QueueQuery) ([]models.QueuedEmailView, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ListQueuedEmails"); err != nil {
		return nil, 0, err
	}
	var all []models.QueuedEmailView
	for _, e := range m.Emails {
		if q.Status != nil && e.Status != *q.Status {
			continue
		}
		v := models.QueuedEmailView{QueuedEmail: *e}
		if r, ok := m.Recipients[e.RecipientID]; ok {
			v.RecipientName = strings.TrimSpace(r.FirstName + " " + r.LastName)
		}
		if e.TemplateID != nil {
			if t, ok := m.Templates[*e.TemplateID]; ok {
				v.TemplateName = t.Name
			}
		}
		if e.CampaignID != nil {
			if c, ok := m.Campaigns[*e.CampaignID]; ok {
				v.CampaignName = c.Name
			}
		}
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start, end := page(len(all), q.Limit, q.Offset)
	return all[start:end], len(all), nil
}

func (m *Memory) CountQueuedEmailsByStatus(_ context.Context) ([]models.QueueStatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("CountQueuedEmailsByStatus"); err != nil {
		return nil, err
	}
	byStatus := make(map[models.Status]*models.QueueStatusCount)
	for _, e := range m.Emails {
		c, ok := byStatus[e.Status]
		if !ok {
			c = &models.QueueStatusCount{Status: e.Status, OldestEmail: e.CreatedAt}
			byStatus[e.Status] = c
		}
		c.Count++
		if e.CreatedAt.Before(c.OldestEmail) {
			c.OldestEmail = e.CreatedAt
		}
	}
	var out []models.QueueStatusCount
	for _, st := range models.Statuses {
		if c, ok := byStatus[st]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *Memory) PurgeSentQueuedEmails(_ context.Context, sentBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("PurgeSentQueuedEmails"); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range m.Emails {
		if e.Status == models.StatusSent && e.SentAt != nil && e.SentAt.Before(sentBefore) {
			delete(m.Emails, id)
			n++
		}
	}
	return n, nil
}

// --- CampaignStore ---

func (m *Memory) CreateCampaign(_ context.Context, p models.BulkCampaignCreateParams) (*models.BulkCampaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("CreateCampaign"); err != nil {
		return nil, err
	}
	now := time.Now()
	c := &models.BulkCampaign{
		ID:              m.nextCampaignID,
		PublicID:        uuid.New(),
		Name:            p.Name,
		TemplateID:      p.TemplateID,
		Subject:         p.Subject,
		Body:            p.Body,
		TotalRecipients: p.TotalRecipients,
		CreatedBy:       p.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.nextCampaignID++
	m.Campaigns[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *Memory) GetCampaignByID(_ context.Context, id int64) (*models.BulkCampaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Campaigns[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListCampaigns(_ context.Context, limit, offset int) ([]models.BulkCampaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.BulkCampaign
	for _, c := range m.Campaigns {
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start, end := page(len(all), limit, offset)
	return all[start:end], nil
}

func (m *Memory) SetCampaignQueuedCount(_ context.Context, id int64, queued int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("SetCampaignQueuedCount"); err != nil {
		return err
	}
	c, ok := m.Campaigns[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.QueuedCount = queued
	return nil
}

// --- DeliveryLogStore ---

func (m *Memory) ListDeliveryLog(_ context.Context, q models.DeliveryLogQuery) ([]models.DeliveryLogEntryView, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ListDeliveryLog"); err != nil {
		return nil, 0, err
	}
	var all []models.DeliveryLogEntryView
	for i := len(m.Log) - 1; i >= 0; i-- {
		entry := m.Log[i]
		if q.Status != nil && entry.Status != *q.Status {
			continue
		}
		if q.TemplateID != nil && (entry.TemplateID == nil || *entry.TemplateID != *q.TemplateID) {
			continue
		}
		v := models.DeliveryLogEntryView{DeliveryLogEntry: entry}
		if entry.TemplateID != nil {
			if t, ok := m.Templates[*entry.TemplateID]; ok {
				v.TemplateName = t.Name
			}
		}
		if r, ok := m.Recipients[entry.RecipientID]; ok {
			v.RecipientName = strings.TrimSpace(r.FirstName + " " + r.LastName)
		}
		all = append(all, v)
	}
	start, end := page(len(all), q.Limit, q.Offset)
	return all[start:end], len(all), nil
}

func (m *Memory) CountDeliveryLogByStatus(_ context.Context, since time.Time) ([]models.LogStatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("CountDeliveryLogByStatus"); err != nil {
		return nil, err
	}
	counts := make(map[models.LogStatus]int)
	for _, entry := range m.Log {
		if !entry.SentAt.Before(since) {
			counts[entry.Status]++
		}
	}
	var out []models.LogStatusCount
	for _, st := range []models.LogStatus{models.LogFailed, models.LogSent} {
		if n, ok := counts[st]; ok {
			out = append(out, models.LogStatusCount{Status: st, Count: n})
		}
	}
	return out, nil
}

func (m *Memory) DailyDeliveryVolume(_ context.Context, since time.Time) ([]models.DailyVolume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("DailyDeliveryVolume"); err != nil {
		return nil, err
	}
	byDay := make(map[time.Time]*models.DailyVolume)
	for _, entry := range m.Log {
		if entry.SentAt.Before(since) {
			continue
		}
		t := entry.SentAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		v, ok := byDay[day]
		if !ok {
			v = &models.DailyVolume{Date: day}
			byDay[day] = v
		}
		v.Total++
		if entry.Status == models.LogSent {
			v.Successful++
		} else {
			v.Failed++
		}
	}
	var out []models.DailyVolume
	for _, v := range byDay {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) TemplatePerformance(_ context.Context, since time.Time, limit int) ([]models.TemplatePerformance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("TemplatePerformance"); err != nil {
		return nil, err
	}
	byTemplate := make(map[int64]*models.TemplatePerformance)
	for _, entry := range m.Log {
		if entry.TemplateID == nil || entry.SentAt.Before(since) {
			continue
		}
		t, ok := m.Templates[*entry.TemplateID]
		if !ok {
			continue
		}
		p, ok := byTemplate[t.ID]
		if !ok {
			p = &models.TemplatePerformance{TemplateID: t.ID, TemplateName: t.Name}
			byTemplate[t.ID] = p
		}
		p.Total++
		if entry.Status == models.LogSent {
			p.Successful++
		}
	}
	var out []models.TemplatePerformance
	for _, p := range byTemplate {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].TemplateID < out[j].TemplateID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func page(n, limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
