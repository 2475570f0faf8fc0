package service

import (
	"context"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

// Config returns a snapshot of the current configuration.
func (r *Runner) Config() model.RunnerConfig {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.cfg
}

// UpdateConfig validates and changes a single key, see model.RunnerConfig.Set.
// Raising maxRunning starts waiting tasks right away. Buffer sizes apply to
// tasks enqueued afterwards.
func (r *Runner) UpdateConfig(ctx context.Context, key string, value any) (model.RunnerConfig, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	cfg := r.cfg
	if err := cfg.Set(key, value); err != nil {
		return r.cfg, err
	}
	r.cfg = cfg
	r.log.InfoContext(ctx, "config updated", "key", key, "value", value)

	if key == model.KeyMaxRunning {
		r.admitLocked()
	}
	return r.cfg, nil
}
