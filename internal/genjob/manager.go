// Package genjob owns the lifecycle of image generation jobs: submit to
// the rendering backend, poll until terminal, fetch the artifacts, and
// hand the result set to the requester. Jobs run on their own
// goroutines and never stall the table's message loop.
package genjob

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind selects how a finished job is delivered.
type Kind int

const (
	// KindDraw produces a hand of cards: each artifact gets a fresh
	// card id, is persisted to the cache, and is reported with a
	// placement hint.
	KindDraw Kind = iota
	// KindImage produces a single raw image for the requester.
	KindImage
)

// Request describes one generation job.
type Request struct {
	Kind   Kind
	Prompt string
}

// Failure reason codes surfaced to the requester. Every failed job
// produces exactly one of these.
const (
	ReasonBusy    = "busy"
	ReasonSubmit  = "submit"
	ReasonTimeout = "timeout"
	ReasonPoll    = "poll"
	ReasonFetch   = "fetch"
)

// HandCard pairs a freshly drawn card id with its placement hint. Hand
// cards are client-side until explicitly placed on the table.
type HandCard struct {
	ID string
	X  float64
	Y  float64
}

// Outcome is the terminal result of one job: either a hand of cards, a
// single image, or a failure reason. Exactly one of the three is set.
type Outcome struct {
	Cards  []HandCard
	Image  []byte
	Reason string
}

// Failed reports whether the outcome carries a failure reason.
func (o Outcome) Failed() bool {
	return o.Reason != ""
}

type artifactStore interface {
	Put(id string, data []byte) error
}

// Config bounds a manager's polling and admission behavior. Hand
// placement hints are computed from the table geometry: cards are laid
// out left to right, evenly spaced, centered, at the hand row's fixed
// vertical offset.
type Config struct {
	PollInterval   time.Duration
	PollBudget     int // polls before the job fails with ReasonTimeout
	RetryAllowance int // poll errors tolerated before ReasonPoll
	MaxInFlight    int // concurrent jobs; excess is rejected with ReasonBusy
	TableWidth     float64
	HandSpacing    float64
	HandY          float64
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		PollBudget:     120,
		RetryAllowance: 3,
		MaxInFlight:    2,
		TableWidth:     800,
		HandSpacing:    140,
		HandY:          560,
	}
}

// Manager runs generation jobs against a backend with bounded
// concurrency.
type Manager struct {
	backend  Backend
	cache    artifactStore
	cfg      Config
	logger   *zap.Logger
	sem      chan struct{}
	inFlight atomic.Int64
}

func NewManager(backend Backend, cache artifactStore, cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backend: backend,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		sem:     make(chan struct{}, cfg.MaxInFlight),
	}
}

// InFlight reports the number of jobs currently running.
func (m *Manager) InFlight() int64 {
	return m.inFlight.Load()
}

// Launch admits and starts a job. deliver is invoked at most once, on
// the job's goroutine; it is skipped entirely when ctx is cancelled
// before the job reaches a deliverable state (requester gone). A job
// arriving while the manager is at capacity is rejected immediately
// with ReasonBusy.
func (m *Manager) Launch(ctx context.Context, req Request, deliver func(Outcome)) {
	select {
	case m.sem <- struct{}{}:
	default:
		m.logger.Info("generation job rejected at capacity",
			zap.Int("maxInFlight", m.cfg.MaxInFlight))
		deliver(Outcome{Reason: ReasonBusy})
		return
	}

	m.inFlight.Add(1)
	go func() {
		defer func() {
			m.inFlight.Add(-1)
			<-m.sem
		}()

		out, abandoned := m.run(ctx, req)
		if abandoned {
			m.logger.Info("generation job abandoned, requester disconnected")
			return
		}
		deliver(out)
	}()
}

func (m *Manager) run(ctx context.Context, req Request) (Outcome, bool) {
	if ctx.Err() != nil {
		return Outcome{}, true
	}

	jobID, err := m.backend.Submit(ctx, req.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, true
		}
		m.logger.Warn("generation submit failed", zap.Error(err))
		return Outcome{Reason: ReasonSubmit}, false
	}
	logger := m.logger.With(zap.String("job", jobID))
	logger.Info("generation job submitted", zap.Int("kind", int(req.Kind)))

	refs, reason, abandoned := m.poll(ctx, logger, jobID)
	if abandoned {
		return Outcome{}, true
	}
	if reason != "" {
		return Outcome{Reason: reason}, false
	}
	if len(refs) == 0 {
		logger.Warn("generation job finished with no outputs")
		return Outcome{Reason: ReasonFetch}, false
	}

	// Fetch is all or nothing: any failure fails the whole job and
	// nothing is persisted.
	images := make([][]byte, 0, len(refs))
	for _, ref := range refs {
		if ctx.Err() != nil {
			return Outcome{}, true
		}
		data, err := m.backend.Fetch(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, true
			}
			logger.Warn("artifact fetch failed", zap.String("filename", ref.Filename), zap.Error(err))
			return Outcome{Reason: ReasonFetch}, false
		}
		images = append(images, data)
	}
	if ctx.Err() != nil {
		return Outcome{}, true
	}

	if req.Kind == KindImage {
		logger.Info("generation job complete", zap.Int("artifacts", len(images)))
		return Outcome{Image: images[0]}, false
	}

	cards := make([]HandCard, 0, len(images))
	startX := (m.cfg.TableWidth - float64(len(images)-1)*m.cfg.HandSpacing) / 2
	for i, data := range images {
		id := uuid.NewString()
		if err := m.cache.Put(id, data); err != nil {
			logger.Warn("artifact persist failed", zap.String("cardId", id), zap.Error(err))
			return Outcome{Reason: ReasonFetch}, false
		}
		cards = append(cards, HandCard{
			ID: id,
			X:  startX + float64(i)*m.cfg.HandSpacing,
			Y:  m.cfg.HandY,
		})
	}
	logger.Info("generation job complete", zap.Int("artifacts", len(cards)))
	return Outcome{Cards: cards}, false
}

// poll queries the backend at a fixed interval until it reports
// completion, the poll budget runs out, or the retry allowance for
// poll errors is exhausted. Requester disconnection is observed within
// one interval.
func (m *Manager) poll(ctx context.Context, logger *zap.Logger, jobID string) ([]ArtifactRef, string, bool) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	retries := 0
	for attempt := 0; attempt < m.cfg.PollBudget; attempt++ {
		select {
		case <-ctx.Done():
			return nil, "", true
		case <-ticker.C:
		}

		status, refs, err := m.backend.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", true
			}
			retries++
			logger.Warn("poll attempt failed",
				zap.Int("retries", retries), zap.Error(err))
			if retries > m.cfg.RetryAllowance {
				return nil, ReasonPoll, false
			}
			continue
		}
		if status == StatusComplete {
			return refs, "", false
		}
	}
	logger.Warn("generation job exceeded poll budget", zap.Int("budget", m.cfg.PollBudget))
	return nil, ReasonTimeout, false
}
