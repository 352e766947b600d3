package service

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ProgressLogger logs upload progress at debug level in quarter steps.
// State for a key is dropped when its upload completes or is forgotten.
type ProgressLogger struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewProgressLogger() *ProgressLogger {
	return &ProgressLogger{last: make(map[string]int64)}
}

func (p *ProgressLogger) Progress(key string, transferred, total int64) {
	if total <= 0 {
		log.Debug().Str("storage_key", key).Int64("transferred", transferred).Msg("upload progress")
		return
	}
	step := transferred * 4 / total

	p.mu.Lock()
	prev, seen := p.last[key]
	if seen && step <= prev {
		p.mu.Unlock()
		return
	}
	if transferred >= total {
		delete(p.last, key)
	} else {
		p.last[key] = step
	}
	p.mu.Unlock()

	log.Debug().
		Str("storage_key", key).
		Int64("transferred", transferred).
		Int64("total", total).
		Msg("upload progress")
}

// Forget drops the state kept for key. Ingest calls it once Put returns, so
// uploads that fail midway do not linger.
func (p *ProgressLogger) Forget(key string) {
	p.mu.Lock()
	delete(p.last, key)
	p.mu.Unlock()
}
