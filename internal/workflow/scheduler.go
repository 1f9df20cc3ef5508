package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vanzstore/stockfarm/internal/model"
)

// Scheduler бесконечно запускает сценарии интеграций по расписанию.
// Неудачный прогон логируется и не мешает ни следующему прогону, ни
// другим интеграциям.
type Scheduler struct {
	ch           Channel
	stock        Stock
	integrations []model.Integration
	logger       *zap.Logger

	pollInterval time.Duration
	settleDelay  time.Duration
}

// NewScheduler создаёт планировщик фарминга для набора интеграций.
func NewScheduler(ch Channel, stock Stock, integrations []model.Integration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		ch:           ch,
		stock:        stock,
		integrations: integrations,
		logger:       logger,
		pollInterval: defaultPollInterval,
		settleDelay:  defaultSettleDelay,
	}
}

// Start запускает по горутине на каждую настроенную интеграцию и блокируется,
// пока все они не завершатся после отмены контекста. Интеграция без пира
// пропускается: это конфигурационный выключатель, а не ошибка.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ig := range s.integrations {
		if ig.Peer == "" {
			s.logger.Info("integration disabled: peer not configured",
				zap.String("integration", ig.Name))
			continue
		}

		wg.Add(1)
		go func(ig model.Integration) {
			defer wg.Done()
			s.farm(ctx, ig)
		}(ig)
	}
	wg.Wait()
}

func (s *Scheduler) farm(ctx context.Context, ig model.Integration) {
	s.logger.Info("farming started",
		zap.String("integration", ig.Name),
		zap.String("peer", ig.Peer),
		zap.Duration("interval", ig.Interval.Std()))

	for {
		runner := NewRunner(s.ch, ig.Peer)
		runner.pollInterval = s.pollInterval
		runner.settleDelay = s.settleDelay

		n, err := RunOnce(ctx, runner, ig, s.stock)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			s.logger.Warn("farm run failed",
				zap.String("integration", ig.Name),
				zap.Error(err))
		default:
			s.logger.Info("farm run finished",
				zap.String("integration", ig.Name),
				zap.Int("records", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ig.Interval.Std()):
		}
	}
}
