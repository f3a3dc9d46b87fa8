package bridge

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
)

// predictionQueue bounds the results waiting for a slow stream; older batches
// are superseded by newer ones anyway.
const predictionQueue = 4

// predictor owns the single prediction session of one kind
type predictor struct {
	spec     PredictionSpec
	platform Platform
	logger   *logging.Logger

	mu      sync.Mutex
	gen     uint64
	session PredictionSession
	cancel  context.CancelFunc
}

func newPredictor(spec PredictionSpec, platform Platform, logger *logging.Logger) *predictor {
	return &predictor{spec: spec, platform: platform, logger: logger}
}

// run replaces any live session with a new one and forwards its results to
// send from this goroutine until ctx ends, the session is replaced or send fails.
func (p *predictor) run(ctx context.Context, extras map[string]any, send func([]Prediction) error) error {
	spec := p.spec
	if len(extras) > 0 {
		spec.Extras = maps.Clone(extras)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	queue := make(chan []Prediction, predictionQueue)

	p.mu.Lock()
	p.destroyLocked()
	session, err := p.platform.CreatePredictionSession(ctx, spec, func(predictions []Prediction) {
		select {
		case queue <- predictions:
		default:
			// Drop the oldest pending batch to make room.
			select {
			case <-queue:
			default:
			}
			select {
			case queue <- predictions:
			default:
			}
		}
	})
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("create %s prediction session: %w", spec.Kind, err)
	}
	p.gen++
	gen := p.gen
	p.session = session
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.destroyLocked()
		}
		p.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case predictions := <-queue:
			if err := send(predictions); err != nil {
				return err
			}
		}
	}
}

// destroy ends the live session, if any
func (p *predictor) destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyLocked()
}

func (p *predictor) destroyLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.session == nil {
		return
	}
	if err := p.session.Destroy(); err != nil && !isAlreadyDestroyed(err) {
		p.logger.Warn("Failed to destroy prediction session", zap.Stringer("kind", p.spec.Kind), zap.Error(err))
	}
	p.session = nil
}
