// SPDX-License-Identifier: MIT

package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/justinTNT/tsnotfyi-sub002/internal/metrics"
	"github.com/justinTNT/tsnotfyi-sub002/internal/session"
)

// checkout hands out a pre-warmed session, binding it to the caller and
// kicking a background refill. Returns nil when the pool is empty or
// disabled.
func (r *Registry) checkout(clientIP string) *session.Engine {
	r.mu.Lock()
	if len(r.pool) == 0 {
		r.mu.Unlock()
		return nil
	}
	eng := r.pool[len(r.pool)-1]
	r.pool = r.pool[:len(r.pool)-1]
	r.mu.Unlock()

	eng.Bind(newFingerprint(), clientIP)
	if err := r.register(eng, clientIP); err != nil {
		eng.Destroy("registry_closed")
		return nil
	}
	metrics.IncSessionCreated("pool")
	r.refillPool()
	return eng
}

// refillPool tops the pool back up to the configured size. Singleflight
// collapses concurrent checkouts into one refill run.
func (r *Registry) refillPool() {
	go r.refillSF.Do("refill", func() (any, error) {
		for {
			r.mu.RLock()
			size := r.deps.Settings.PoolSize
			have := len(r.pool)
			closed := r.closed
			r.mu.RUnlock()
			if closed || size <= 0 || have >= size {
				return nil, nil
			}

			seed, err := r.pickSeed("")
			if err != nil {
				r.logger.Warn().Err(err).Msg("pool refill has no seed track")
				return nil, err
			}
			eng := session.NewEngine(session.Options{ID: uuid.NewString()}, r.engineDeps())
			eng.SetIdleCallback(r.onEngineIdle)
			if err := eng.Seed(context.Background(), seed, ""); err != nil {
				eng.Destroy("seed_failed")
				r.logger.Warn().Err(err).Msg("pool refill seed failed")
				return nil, err
			}

			r.mu.Lock()
			if r.closed || len(r.pool) >= size {
				r.mu.Unlock()
				eng.Destroy("pool_overflow")
				return nil, nil
			}
			r.pool = append(r.pool, eng)
			r.mu.Unlock()
		}
	})
}

// PoolLen reports the number of pre-warmed sessions ready for checkout.
func (r *Registry) PoolLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pool)
}
