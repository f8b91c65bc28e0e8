package pipeline

import (
	"time"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Policy is the per-kind execution contract: worker-pool size, attempt cap,
// retry backoff, and the per-attempt timeout (zero means none).
type Policy struct {
	Concurrency int
	MaxAttempts int
	Backoff     BackoffKind
	Delay       time.Duration
	Timeout     time.Duration
}

const maxBackoff = time.Minute

// DefaultPolicies mirrors the production queue configuration: intake and
// indexing run wide with exponential backoff, OCR and classification run
// narrower with fixed delays and hard delegate timeouts.
func DefaultPolicies() map[domain.JobType]Policy {
	return map[domain.JobType]Policy{
		domain.JobTypeUpload: {
			Concurrency: 10,
			MaxAttempts: 3,
			Backoff:     BackoffExponential,
			Delay:       2 * time.Second,
		},
		domain.JobTypeOCR: {
			Concurrency: 5,
			MaxAttempts: 2,
			Backoff:     BackoffFixed,
			Delay:       5 * time.Second,
			Timeout:     120 * time.Second,
		},
		domain.JobTypeClassification: {
			Concurrency: 5,
			MaxAttempts: 2,
			Backoff:     BackoffFixed,
			Delay:       5 * time.Second,
			Timeout:     60 * time.Second,
		},
		domain.JobTypeIndexing: {
			Concurrency: 10,
			MaxAttempts: 3,
			Backoff:     BackoffExponential,
			Delay:       2 * time.Second,
		},
	}
}

func (p Policy) normalize() Policy {
	out := p
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.Backoff != BackoffFixed && out.Backoff != BackoffExponential {
		out.Backoff = BackoffFixed
	}
	if out.Delay < 0 {
		out.Delay = 0
	}
	return out
}

// backoffFor returns the wait before the attempt following attemptsSoFar.
func (p Policy) backoffFor(attemptsSoFar int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if p.Backoff != BackoffExponential {
		return p.Delay
	}
	wait := p.Delay
	for i := 1; i < attemptsSoFar; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}
