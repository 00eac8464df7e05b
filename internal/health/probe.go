package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Probe is one readiness dependency check.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckResult is the per-probe outcome reported by /health/ready.
type CheckResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ProbeRunner runs every probe with a bounded timeout.
type ProbeRunner struct {
	probes  []Probe
	timeout time.Duration
}

func NewProbeRunner(timeout time.Duration, probes ...Probe) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{probes: probes, timeout: timeout}
}

// Ready reports overall readiness plus individual results.
func (r *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	ready := true
	results := make([]CheckResult, 0, len(r.probes))
	for _, probe := range r.probes {
		probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := probe.Check(probeCtx)
		cancel()
		result := CheckResult{Name: probe.Name(), OK: err == nil}
		if err != nil {
			result.Error = err.Error()
			ready = false
		}
		results = append(results, result)
	}
	return ready, results
}

type dbProbe struct{ db *gorm.DB }

func NewDatabaseProbe(db *gorm.DB) Probe { return &dbProbe{db: db} }

func (p *dbProbe) Name() string { return "database" }

func (p *dbProbe) Check(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type redisProbe struct{ client redis.UniversalClient }

func NewRedisProbe(client redis.UniversalClient) Probe { return &redisProbe{client: client} }

func (p *redisProbe) Name() string { return "redis" }

func (p *redisProbe) Check(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
