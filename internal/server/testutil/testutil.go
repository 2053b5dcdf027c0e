// Package testutil holds the database and provider fakes shared by server package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/dao"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/provider"
	"mangosqueezy/internal/server/scheduler"
	"mangosqueezy/internal/server/statemachine"
)

// OpenDB returns a migrated sqlite database in a temp dir, limited to one connection.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dao.OpenDB("sqlite", filepath.Join(t.TempDir(), "mango.db"), nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// Provider is a scripted fake of every external provider. Calls are counted per kind.
type Provider struct {
	mu         sync.Mutex
	calls      map[statemachine.StepKind]int
	fail       map[statemachine.StepKind]int
	Affiliates []model.Affiliate
	VideoID    string
	Outreached []provider.OutreachRequest
}

func NewProvider(affiliateCount int, videoID string) *Provider {
	p := &Provider{
		calls:   map[statemachine.StepKind]int{},
		fail:    map[statemachine.StepKind]int{},
		VideoID: videoID,
	}
	for i := 0; i < affiliateCount; i++ {
		p.Affiliates = append(p.Affiliates, model.Affiliate{
			Handle:   fmt.Sprintf("@mango_fan_%d", i+1),
			Platform: "instagram",
			Score:    0.9,
		})
	}
	return p
}

// FailNext makes the next n calls of kind fail with a provider error.
func (p *Provider) FailNext(kind statemachine.StepKind, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[kind] = n
}

func (p *Provider) Calls(kind statemachine.StepKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[kind]
}

func (p *Provider) hit(kind statemachine.StepKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[kind]++
	if p.fail[kind] > 0 {
		p.fail[kind]--
		return fmt.Errorf("%s unavailable: %w", kind, common.ErrProvider)
	}
	return nil
}

func (p *Provider) SearchAffiliates(_ context.Context, req provider.SearchRequest) ([]model.Affiliate, error) {
	if err := p.hit(statemachine.AffiliateSearch); err != nil {
		return nil, err
	}
	n := min(req.AffiliateCount, len(p.Affiliates))
	return p.Affiliates[:n], nil
}

func (p *Provider) SendOutreach(_ context.Context, req provider.OutreachRequest) error {
	if err := p.hit(statemachine.Outreach); err != nil {
		return err
	}
	p.mu.Lock()
	p.Outreached = append(p.Outreached, req)
	p.mu.Unlock()
	return nil
}

func (p *Provider) GenerateVideo(_ context.Context, _ provider.VideoRequest) (string, error) {
	if err := p.hit(statemachine.VideoGenerate); err != nil {
		return "", err
	}
	return p.VideoID, nil
}

func (p *Provider) PublishVideo(_ context.Context, _ provider.PublishRequest) error {
	return p.hit(statemachine.VideoPublish)
}

// Scheduled is one callback a Scheduler was asked to deliver.
type Scheduled struct {
	ScheduleID string
	Callback   scheduler.Callback
	Delay      time.Duration
}

// Scheduler records scheduled callbacks instead of delivering them. Duplicate schedule ids
// are absorbed like the asynq task id conflict.
type Scheduler struct {
	mu      sync.Mutex
	seen    map[string]bool
	pending []Scheduled
	Err     error
}

func NewScheduler() *Scheduler {
	return &Scheduler{seen: map[string]bool{}}
}

func (s *Scheduler) Enqueue(_ context.Context, job *model.StepJob, event statemachine.Event, data scheduler.Callback, delay time.Duration, _ string) (string, error) {
	data.PipelineID = job.PipelineID
	data.IdempotencyKey = job.IdempotencyKey
	data.Event = event
	return s.add(scheduler.ScheduleID(job, event), data, delay)
}

func (s *Scheduler) EnqueueEvent(_ context.Context, pipelineID string, event statemachine.Event, delay time.Duration, _ string) (string, error) {
	return s.add(pipelineID+":"+string(event), scheduler.Callback{PipelineID: pipelineID, Event: event}, delay)
}

func (s *Scheduler) add(id string, cb scheduler.Callback, delay time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	if !s.seen[id] {
		s.seen[id] = true
		s.pending = append(s.pending, Scheduled{ScheduleID: id, Callback: cb, Delay: delay})
	}
	return id, nil
}

// Drain returns and clears everything scheduled so far.
func (s *Scheduler) Drain() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}
