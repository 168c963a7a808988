// Package inventory periodically publishes how many environments and
// variables the store holds as Prometheus gauges.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/pkg/logger"
)

const collectTimeout = 30 * time.Second

// Source lists the inventory being counted.
type Source interface {
	ListEnvironments(ctx context.Context) ([]domain.Environment, error)
	ListVariables(ctx context.Context, environmentID string) ([]domain.Variable, error)
}

// Snapshot is the result of one collection run.
type Snapshot struct {
	Environments int
	Variables    int
	Secrets      int
}

// Collector counts the inventory on a cron schedule.
type Collector struct {
	source Source
	log    *slog.Logger
	cron   *cron.Cron

	environments prometheus.Gauge
	variables    *prometheus.GaugeVec

	mu   sync.Mutex
	last Snapshot
}

// New builds a collector that runs on schedule, which accepts five field cron
// expressions and descriptors such as "@every 1m". Gauges are registered on reg.
func New(source Source, schedule string, reg prometheus.Registerer, log *slog.Logger) (*Collector, error) {
	if log == nil {
		log = logger.Discard()
	}
	c := &Collector{
		source: source,
		log:    log,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		environments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "confvault",
			Subsystem: "inventory",
			Name:      "environments",
			Help:      "Number of environments in the store",
		}),
		variables: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "confvault",
			Subsystem: "inventory",
			Name:      "variables",
			Help:      "Number of variables in the store by secrecy",
		}, []string{"secret"}),
	}
	if _, err := c.cron.AddFunc(schedule, c.run); err != nil {
		return nil, fmt.Errorf("parse inventory schedule %q: %w", schedule, err)
	}
	if reg != nil {
		for _, collector := range []prometheus.Collector{c.environments, c.variables} {
			if err := reg.Register(collector); err != nil {
				return nil, fmt.Errorf("register inventory gauges: %w", err)
			}
		}
	}
	return c, nil
}

// Start runs an initial collection and then follows the schedule.
func (c *Collector) Start() {
	go c.run()
	c.cron.Start()
}

// Stop halts the schedule and waits for a running collection to finish.
func (c *Collector) Stop() {
	<-c.cron.Stop().Done()
}

func (c *Collector) run() {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	if _, err := c.Collect(ctx); err != nil {
		c.log.Warn("inventory collection failed", "error", err)
	}
}

// Collect counts the inventory once and updates the gauges.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	envs, err := c.source.ListEnvironments(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Environments: len(envs)}
	for _, env := range envs {
		vars, err := c.source.ListVariables(ctx, env.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list variables of %s: %w", env.Name, err)
		}
		snap.Variables += len(vars)
		for _, v := range vars {
			if v.IsSecret {
				snap.Secrets++
			}
		}
	}

	c.environments.Set(float64(snap.Environments))
	c.variables.WithLabelValues("true").Set(float64(snap.Secrets))
	c.variables.WithLabelValues("false").Set(float64(snap.Variables - snap.Secrets))

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()
	c.log.Debug("inventory collected", "environments", snap.Environments, "variables", snap.Variables, "secrets", snap.Secrets)
	return snap, nil
}

// Last returns the most recent snapshot.
func (c *Collector) Last() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
