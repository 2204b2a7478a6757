package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aave-rate-digest/internal/aave"
	"aave-rate-digest/internal/alerting"
	"aave-rate-digest/internal/config"
	"aave-rate-digest/internal/digest"
	"aave-rate-digest/internal/scheduler"
	"aave-rate-digest/internal/storage"
)

// ConfigError reports a setup problem found before any message is sent.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// DeliveryError reports a message that could not be delivered.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "delivery failed: " + e.Err.Error() }
func (e *DeliveryError) Unwrap() error { return e.Err }

// Renderer produces the message text. *digest.Builder implements it.
type Renderer interface {
	Build(ctx context.Context) string
}

// DeliveryRecorder observes send outcomes.
type DeliveryRecorder interface {
	DeliveryResult(err error)
}

// Service renders the digest and delivers it, once or on a schedule.
type Service struct {
	scheduler *scheduler.Scheduler
	renderer  Renderer
	notifier  alerting.Notifier
	archive   storage.SnapshotStore
	locker    storage.AdvisoryLocker
	recorder  DeliveryRecorder
	logger    zerolog.Logger

	chatID  string
	lockKey int64

	mu      sync.Mutex
	pending *aave.MarketSnapshot
}

// New constructs the delivery service. sched, archive and recorder may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, renderer Renderer, notifier alerting.Notifier, archive storage.SnapshotStore, recorder DeliveryRecorder, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := archive.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		renderer:  renderer,
		notifier:  notifier,
		archive:   archive,
		locker:    locker,
		recorder:  recorder,
		logger:    logger.With().Str("component", "service").Logger(),
		chatID:    cfg.Telegram.ChatID,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Initialize validates the transport before the first send.
func (s *Service) Initialize(ctx context.Context) error {
	if s.notifier == nil {
		return &ConfigError{Err: fmt.Errorf("notifier not configured")}
	}
	if s.renderer == nil {
		return &ConfigError{Err: fmt.Errorf("message renderer not configured")}
	}
	if err := s.notifier.Validate(ctx); err != nil {
		return &ConfigError{Err: fmt.Errorf("validate telegram bot: %w", err)}
	}
	s.logger.Info().Msg("service initialized")
	return nil
}

// Render builds the message text without sending it.
func (s *Service) Render(ctx context.Context) string {
	text := s.renderer.Build(ctx)
	if strings.TrimSpace(text) == "" {
		s.logger.Warn().Msg("empty message rendered; using fallback")
		return digest.FallbackText
	}
	return text
}

// RunOnce 构建并发送一条消息。
func (s *Service) RunOnce(ctx context.Context) error {
	start := time.Now()
	text := s.Render(ctx)

	err := s.notifier.Send(ctx, s.chatID, text)
	if s.recorder != nil {
		s.recorder.DeliveryResult(err)
	}
	if err != nil {
		s.takePending()
		s.logger.Error().Err(err).Msg("failed to send message")
		return &DeliveryError{Err: err}
	}

	s.logger.Info().Dur("elapsed", time.Since(start)).Int("length", len(text)).Msg("digest delivered")
	s.archivePending(ctx)
	return nil
}

// CaptureSnapshot holds a rendered market snapshot until the message carrying it is sent.
func (s *Service) CaptureSnapshot(_ context.Context, snapshot *aave.MarketSnapshot) {
	s.mu.Lock()
	s.pending = snapshot
	s.mu.Unlock()
}

func (s *Service) takePending() *aave.MarketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.pending
	s.pending = nil
	return snapshot
}

func (s *Service) archivePending(ctx context.Context) {
	snapshot := s.takePending()
	if snapshot == nil || s.archive == nil {
		return
	}
	written, err := s.archive.InsertSnapshot(ctx, snapshot)
	if err != nil {
		s.logger.Error().Err(err).Str("network", snapshot.Network).Msg("failed to archive snapshot")
		return
	}
	s.logger.Debug().Int("rows", written).Str("network", snapshot.Network).Msg("snapshot archived")
}

// Run drives RunOnce from the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessSlot)
}

// ProcessSlot 执行单个调度时段的发送逻辑。
func (s *Service) ProcessSlot(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip slot because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.RunOnce(ctx)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
