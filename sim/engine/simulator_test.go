package engine

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/partition"
	"github.com/inference-sim/population-sim/sim/trace"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Set DEBUG_TESTS=1 to see full logs: DEBUG_TESTS=1 go test ./sim/engine/... -v
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// actorFunc adapts a function to the Actor interface.
type actorFunc struct {
	name string
	init func(s *Simulator) error
}

func (a actorFunc) Name() string            { return a.name }
func (a actorFunc) Init(s *Simulator) error { return a.init(s) }

func newSim(t *testing.T, cfg Config, opts ...Option) *Simulator {
	t.Helper()
	s, err := NewSimulator(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestSimulator_PlansRunInTickPhaseIDOrder(t *testing.T) {
	s := newSim(t, Config{Horizon: 10})
	var order []string
	record := func(name string) PlanFunc {
		return func(s *Simulator) error {
			order = append(order, name)
			return nil
		}
	}
	_, err := s.Schedule(5, PhaseReport, "t", record("5-report"))
	require.NoError(t, err)
	_, err = s.Schedule(5, PhaseUpdate, "t", record("5-update-a"))
	require.NoError(t, err)
	_, err = s.Schedule(2, PhaseReport, "t", record("2-report"))
	require.NoError(t, err)
	_, err = s.Schedule(5, PhaseUpdate, "t", record("5-update-b"))
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"2-report", "5-update-a", "5-update-b", "5-report"}, order)
	assert.Equal(t, int64(5), s.Clock())
	assert.Equal(t, 4, s.Executed())
}

func TestSimulator_HorizonBoundsExecution(t *testing.T) {
	s := newSim(t, Config{Horizon: 3})
	var ticks []int64
	require.NoError(t, s.Every(0, 1, PhaseUpdate, "t", func(s *Simulator) error {
		ticks = append(ticks, s.Clock())
		return nil
	}))
	_, err := s.Schedule(4, PhaseUpdate, "t", func(*Simulator) error {
		t.Error("plan past the horizon executed")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []int64{0, 1, 2, 3}, ticks)
}

func TestSimulator_PlansMayScheduleFollowUps(t *testing.T) {
	s := newSim(t, Config{Horizon: 10})
	var ticks []int64
	_, err := s.Schedule(1, PhaseUpdate, "t", func(s *Simulator) error {
		ticks = append(ticks, s.Clock())
		// same tick is allowed, it runs after the current plan
		_, err := s.Schedule(s.Clock(), PhaseUpdate, "t", func(s *Simulator) error {
			ticks = append(ticks, s.Clock())
			return nil
		})
		if err != nil {
			return err
		}
		_, err = s.Schedule(0, PhaseUpdate, "t", func(*Simulator) error { return nil })
		assert.ErrorIs(t, err, ErrPlanInPast)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []int64{1, 1}, ticks)
}

func TestSimulator_Cancel(t *testing.T) {
	s := newSim(t, Config{Horizon: 10})
	ran := false
	id, err := s.Schedule(3, PhaseUpdate, "t", func(*Simulator) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	s.Cancel(id)
	s.Cancel(999)

	require.NoError(t, s.Run(context.Background()))
	assert.False(t, ran)
	assert.Equal(t, 0, s.Executed())
}

func TestSimulator_Stop(t *testing.T) {
	s := newSim(t, Config{Horizon: 100})
	require.NoError(t, s.Every(0, 1, PhaseUpdate, "t", func(s *Simulator) error {
		if s.Clock() == 4 {
			s.Stop()
		}
		return nil
	}))
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int64(4), s.Clock())
}

func TestSimulator_Run_Errors(t *testing.T) {
	t.Run("plan failure aborts", func(t *testing.T) {
		s := newSim(t, Config{Horizon: 10})
		boom := errors.New("boom")
		_, err := s.Schedule(2, PhaseUpdate, "faulty", func(*Simulator) error { return boom })
		require.NoError(t, err)
		err = s.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "faulty")
	})
	t.Run("actor init failure aborts", func(t *testing.T) {
		s := newSim(t, Config{Horizon: 10})
		boom := errors.New("bad config")
		s.AddActor(actorFunc{name: "broken", init: func(*Simulator) error { return boom }})
		assert.ErrorIs(t, s.Run(context.Background()), boom)
	})
	t.Run("second run", func(t *testing.T) {
		s := newSim(t, Config{Horizon: 1})
		require.NoError(t, s.Run(context.Background()))
		assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyRun)
	})
	t.Run("cancelled context", func(t *testing.T) {
		s := newSim(t, Config{Horizon: 10})
		require.NoError(t, s.Every(0, 1, PhaseUpdate, "t", func(*Simulator) error { return nil }))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	})
}

func TestNewSimulator_Errors(t *testing.T) {
	_, err := NewSimulator(Config{Horizon: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewSimulator(Config{Trace: trace.TraceConfig{Level: "verbose"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s := newSim(t, Config{})
	assert.ErrorIs(t, s.Every(0, 0, PhaseUpdate, "t", nil), ErrInvalidConfig)
}

func TestSimulator_RunID(t *testing.T) {
	s := newSim(t, Config{})
	_, err := uuid.Parse(s.RunID())
	assert.NoError(t, err)

	s = newSim(t, Config{}, WithRunID("fixed"))
	assert.Equal(t, "fixed", s.RunID())
}

// populate defines two regions and an age property, then adds n people per region.
func populate(t *testing.T, s *Simulator, n int) {
	t.Helper()
	w := s.World()
	require.NoError(t, w.DefineRegion(sim.Region{ID: "north", Class: "urban"}))
	require.NoError(t, w.DefineRegion(sim.Region{ID: "south", Class: "rural"}))
	require.NoError(t, w.DefineProperty("age", sim.Definition{Type: sim.ValueTypeInt, Default: 0}))
	for i := 0; i < n; i++ {
		for _, r := range []sim.RegionID{"north", "south"} {
			_, err := w.AddPerson(r, map[string]any{"age": 10 * i})
			require.NoError(t, err)
		}
	}
}

func TestSimulator_SampleAndReport_AreTraced(t *testing.T) {
	s := newSim(t, Config{Seed: 7, Horizon: 2, Streams: []string{"contacts"}, Trace: trace.TraceConfig{Level: trace.TraceLevelSamples}})
	populate(t, s, 5)
	s.AddActor(actorFunc{name: "probe", init: func(s *Simulator) error {
		p, err := partition.New(s.World(), nil, partition.RegionLabeler(nil))
		if err != nil {
			return err
		}
		if err := s.Partitions().Add("by-region", "probe", p); err != nil {
			return err
		}
		return s.Every(0, 1, PhaseUpdate, "probe", func(s *Simulator) error {
			north := partition.NewLabelSet().With(partition.RegionDimension, sim.RegionID("north"))
			_, _, err := s.Sample("probe", "by-region", partition.NewSampler().WithLabels(north).WithStream("contacts"))
			if err != nil {
				return err
			}
			_, err = s.Report("by-region")
			return err
		})
	}})

	require.NoError(t, s.Run(context.Background()))
	st := s.Trace()
	require.NotNil(t, st)
	require.Len(t, st.Samples, 3)
	for _, rec := range st.Samples {
		assert.True(t, rec.Found)
		assert.Equal(t, "{region=north}", rec.Labels)
		assert.Equal(t, "contacts", rec.Stream)
		assert.Less(t, rec.Entity%2, uint32(1), "north people have even ids")
	}
	require.Len(t, st.Breakdowns, 3)
	assert.Equal(t, 10, st.Breakdowns[2].Total)
	assert.Len(t, st.Breakdowns[2].Buckets, 2)
}

func TestSimulator_SampleUnknownStream(t *testing.T) {
	s := newSim(t, Config{})
	populate(t, s, 1)
	p, err := partition.New(s.World(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Partitions().Add("all", "test", p))

	_, _, err = s.Sample("test", "all", partition.NewSampler().WithStream("undeclared"))
	assert.ErrorIs(t, err, partition.ErrUnknownRandomStream)
}

func TestSimulator_TraceDisabledByDefault(t *testing.T) {
	s := newSim(t, Config{})
	assert.Nil(t, s.Trace())
}

func TestSimulator_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newSim(t, Config{Horizon: 3}, WithRegisterer(reg))
	populate(t, s, 2)
	require.NoError(t, s.Every(1, 1, PhaseUpdate, "births", func(s *Simulator) error {
		_, err := s.World().AddPerson("north", nil)
		return err
	}))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 3.0, promtest.ToFloat64(s.metrics.plans.WithLabelValues("births")))
	assert.Equal(t, 7.0, promtest.ToFloat64(s.metrics.population))
	assert.Equal(t, 3.0, promtest.ToFloat64(s.metrics.clock))

	// a second simulator on the same registerer collides
	_, err := NewSimulator(Config{}, WithRegisterer(reg))
	assert.Error(t, err)
}

func TestSimulator_SameSeedSameDraws(t *testing.T) {
	draws := func() []uint32 {
		s := newSim(t, Config{Seed: 99, Horizon: 20, Trace: trace.TraceConfig{Level: trace.TraceLevelSamples}})
		populate(t, s, 20)
		p, err := partition.New(s.World(), nil)
		require.NoError(t, err)
		require.NoError(t, s.Partitions().Add("all", "test", p))
		require.NoError(t, s.Every(0, 1, PhaseUpdate, "test", func(s *Simulator) error {
			_, _, err := s.Sample("test", "all", partition.NewSampler())
			return err
		}))
		require.NoError(t, s.Run(context.Background()))
		var out []uint32
		for _, rec := range s.Trace().Samples {
			out = append(out, rec.Entity)
		}
		return out
	}
	first := draws()
	assert.Len(t, first, 21)
	assert.Equal(t, first, draws())
}
