package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/partition"
	"github.com/inference-sim/population-sim/sim/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyRun is returned by a second call to Run.
	ErrAlreadyRun = errors.New("simulator already run")
	// ErrPlanInPast is returned when a plan is scheduled before the current tick.
	ErrPlanInPast = errors.New("plan scheduled in the past")
	// ErrInvalidConfig is returned for an unusable Config.
	ErrInvalidConfig = errors.New("invalid simulator config")
)

// Config holds the run-level parameters of one simulation.
type Config struct {
	Seed    int64
	Horizon int64    // last tick whose plans execute
	Streams []string // random streams beyond the default one
	Trace   trace.TraceConfig
}

// Actor contributes behavior to a run. Init is called once, in registration
// order, before the first plan executes; actors use it to register
// partitions and schedule their plans.
type Actor interface {
	Name() string
	Init(s *Simulator) error
}

// Option configures a Simulator.
type Option func(*options)

type options struct {
	runID      string
	registerer prometheus.Registerer
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithRegisterer records engine and partition metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Simulator owns everything one run needs: the World and its EventBus, the
// random streams, the partition registry and the plan queue. Runs share no
// state, so separate Simulators may execute on separate goroutines.
//
// Thread-safety: NOT thread-safe. One goroutine per Simulator.
type Simulator struct {
	runID      string
	config     Config
	clock      int64
	plans      *planQueue
	nextPlanID PlanID
	bus        *sim.EventBus
	world      *sim.World
	streams    *sim.RandomStreams
	partitions *partition.Registry
	metrics    *Metrics
	trace      *trace.SimulationTrace
	actors     []Actor
	executed   int
	hasRun     bool
	stopped    bool
}

// NewSimulator creates a Simulator with an empty World.
func NewSimulator(cfg Config, opts ...Option) (*Simulator, error) {
	if cfg.Horizon < 0 {
		return nil, fmt.Errorf("%w: horizon %d must be >= 0", ErrInvalidConfig, cfg.Horizon)
	}
	if !trace.IsValidTraceLevel(string(cfg.Trace.Level)) {
		return nil, fmt.Errorf("%w: unknown trace level %q", ErrInvalidConfig, cfg.Trace.Level)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	metrics, err := newMetrics(o.registerer)
	if err != nil {
		return nil, err
	}
	pm, err := partition.NewMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	bus := sim.NewEventBus()
	world := sim.NewWorld(bus)
	streams := sim.NewRandomStreams(sim.NewSimulationKey(cfg.Seed), cfg.Streams...)
	registry := partition.NewRegistry(world, streams, partition.WithMetrics(pm))
	registry.Attach(bus)

	s := &Simulator{
		runID:      o.runID,
		config:     cfg,
		plans:      newPlanQueue(),
		bus:        bus,
		world:      world,
		streams:    streams,
		partitions: registry,
		metrics:    metrics,
	}
	if cfg.Trace.Level != "" && cfg.Trace.Level != trace.TraceLevelNone {
		s.trace = trace.NewSimulationTrace(cfg.Trace)
	}
	return s, nil
}

// AddActor registers an actor. Must be called before Run.
func (s *Simulator) AddActor(a Actor) {
	s.actors = append(s.actors, a)
}

// Schedule queues fn to run at tick at in the given phase on behalf of owner.
func (s *Simulator) Schedule(at int64, phase Phase, owner string, fn PlanFunc) (PlanID, error) {
	if at < s.clock {
		return 0, fmt.Errorf("%w: tick %d < clock %d", ErrPlanInPast, at, s.clock)
	}
	id := s.nextPlanID
	s.nextPlanID++
	s.plans.schedule(&plan{id: id, at: at, phase: phase, owner: owner, fn: fn})
	return id, nil
}

// Every runs fn at start and then every interval ticks until the horizon.
func (s *Simulator) Every(start, interval int64, phase Phase, owner string, fn PlanFunc) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval %d must be > 0", ErrInvalidConfig, interval)
	}
	var tick PlanFunc
	tick = func(s *Simulator) error {
		if err := fn(s); err != nil {
			return err
		}
		next := s.clock + interval
		if next > s.config.Horizon {
			return nil
		}
		_, err := s.Schedule(next, phase, owner, tick)
		return err
	}
	_, err := s.Schedule(start, phase, owner, tick)
	return err
}

// Cancel drops a scheduled plan. Cancelling an executed or unknown plan is a no-op.
func (s *Simulator) Cancel(id PlanID) {
	s.plans.cancel(id)
}

// Stop ends the run after the current plan returns.
func (s *Simulator) Stop() {
	s.stopped = true
}

// Run initializes the actors and executes plans in (tick, phase, id) order
// until the queue drains, the horizon is passed, Stop is called, ctx is
// cancelled or a plan fails.
// Returns ErrAlreadyRun if called more than once.
func (s *Simulator) Run(ctx context.Context) error {
	if s.hasRun {
		return ErrAlreadyRun
	}
	s.hasRun = true

	logrus.Infof("[run %s] starting: seed %d, horizon %d, %d people, %d actors",
		s.runID, s.config.Seed, s.config.Horizon, s.world.PopulationSize(), len(s.actors))
	for _, a := range s.actors {
		if err := a.Init(s); err != nil {
			return fmt.Errorf("initializing actor %q: %w", a.Name(), err)
		}
	}

	for !s.stopped {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := s.plans.peek()
		if next == nil || next.at > s.config.Horizon {
			break
		}
		p := s.plans.popNext()
		if p.at != s.clock {
			logrus.Debugf("[tick %d] population %d", p.at, s.world.PopulationSize())
		}
		s.clock = p.at
		if err := p.fn(s); err != nil {
			return fmt.Errorf("plan %d (%s) at tick %d: %w", p.id, p.owner, p.at, err)
		}
		s.executed++
		s.metrics.plans.WithLabelValues(p.owner).Inc()
		s.metrics.clock.Set(float64(s.clock))
		s.metrics.population.Set(float64(s.world.PopulationSize()))
	}

	logrus.Infof("[run %s] finished at tick %d: %d plans executed, %d people",
		s.runID, s.clock, s.executed, s.world.PopulationSize())
	return nil
}

// RunID returns the run's unique id.
func (s *Simulator) RunID() string { return s.runID }

// Clock returns the tick of the plan being or last executed.
func (s *Simulator) Clock() int64 { return s.clock }

// Horizon returns the last tick whose plans execute.
func (s *Simulator) Horizon() int64 { return s.config.Horizon }

// Seed returns the master seed.
func (s *Simulator) Seed() int64 { return s.config.Seed }

// Executed returns the number of plans executed so far.
func (s *Simulator) Executed() int { return s.executed }

// Bus returns the run's event bus.
func (s *Simulator) Bus() *sim.EventBus { return s.bus }

// World returns the run's population.
func (s *Simulator) World() *sim.World { return s.world }

// Partitions returns the run's partition registry.
func (s *Simulator) Partitions() *partition.Registry { return s.partitions }

// Streams returns the run's random streams.
func (s *Simulator) Streams() *sim.RandomStreams { return s.streams }

// Stream returns a named random stream; "" selects the default stream.
func (s *Simulator) Stream(name string) (*rand.Rand, error) { return s.streams.Stream(name) }

// Trace returns the run's trace, or nil when tracing is disabled.
func (s *Simulator) Trace() *trace.SimulationTrace { return s.trace }

// Sample draws from the partition under key on behalf of actor and records
// the draw in the trace.
func (s *Simulator) Sample(actor string, key partition.Key, sampler partition.Sampler) (sim.EntityID, bool, error) {
	id, ok, err := s.partitions.Sample(key, sampler)
	if err != nil {
		return 0, false, err
	}
	if s.trace != nil {
		s.trace.RecordSample(trace.SampleRecord{
			Clock:     s.clock,
			Actor:     actor,
			Partition: string(key),
			Labels:    sampler.Labels().String(),
			Stream:    sampler.Stream(),
			Found:     ok,
			Entity:    uint32(id),
		})
	}
	return id, ok, nil
}

// Report returns the full breakdown of the partition under key and records
// it in the trace.
func (s *Simulator) Report(key partition.Key) ([]partition.LabelCount, error) {
	rows, err := s.partitions.Breakdown(key, partition.NewLabelSet())
	if err != nil {
		return nil, err
	}
	if s.trace != nil {
		rec := trace.BreakdownRecord{Clock: s.clock, Partition: string(key)}
		for _, row := range rows {
			rec.Total += row.Count
			rec.Buckets = append(rec.Buckets, trace.BucketCount{Labels: row.Labels.String(), Count: row.Count})
		}
		s.trace.RecordBreakdown(rec)
	}
	return rows, nil
}
