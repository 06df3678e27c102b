package provider

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrNoModel means no candidate answered the probe and no hard fallback is
// configured. The generation path is unusable; everything else keeps working.
var ErrNoModel = errors.New("no reachable model candidate")

// Prober is the slice of Client the selector needs.
type Prober interface {
	Probe(ctx context.Context, model string) error
}

// Selector resolves the model to call: candidates are probed in order, the
// first reachable one wins, and the result is memoized for the process
// lifetime. A model that starts failing mid-session is NOT re-resolved;
// those failures surface at generation time.
type Selector struct {
	prober     Prober
	candidates []string
	fallback   string
	logger     *zap.SugaredLogger

	once  sync.Once
	model string
	err   error
}

func NewSelector(prober Prober, candidates []string, fallback string, logger *zap.SugaredLogger) *Selector {
	return &Selector{
		prober:     prober,
		candidates: candidates,
		fallback:   fallback,
		logger:     logger,
	}
}

// Resolve returns the selected model ID. Only the first call probes; every
// later call returns the memoized result.
func (s *Selector) Resolve(ctx context.Context) (string, error) {
	s.once.Do(func() {
		s.model, s.err = s.resolve(ctx)
	})
	return s.model, s.err
}

func (s *Selector) resolve(ctx context.Context) (string, error) {
	for _, candidate := range s.candidates {
		if err := s.prober.Probe(ctx, candidate); err != nil {
			// any probe failure just means "unreachable", keep going
			s.logger.Debugf("selector: candidate %s unreachable: %v", candidate, err)
			continue
		}
		s.logger.Infof("selector: using model %s", candidate)
		return candidate, nil
	}

	if s.fallback != "" {
		s.logger.Warnf("selector: no candidate reachable, falling back to %s", s.fallback)
		return s.fallback, nil
	}

	return "", ErrNoModel
}
