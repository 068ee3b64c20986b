package scenario

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/population-sim/sim/engine"
	"github.com/inference-sim/population-sim/sim/partition"
	"github.com/inference-sim/population-sim/sim/trace"
)

// Result summarizes one finished replicate.
type Result struct {
	Replicate  int
	Seed       int64
	RunID      string
	Clock      int64
	Population int
	Executed   int
	Partitions []PartitionResult
	Trace      *trace.TraceSummary // nil when tracing is off
	Metrics    map[string]float64  // metric family → sum over its series
}

// PartitionResult is the final breakdown of one registered partition.
type PartitionResult struct {
	Key     string
	Owner   string
	Total   int
	Buckets []trace.BucketCount
}

// Run executes every replicate of spec and returns the results in replicate
// order. Replicate i uses seed spec.Seed+i. Replicates run concurrently, at
// most spec.Parallelism at a time when it is positive; each gets its own
// Simulator and its own metrics registry. The first failure cancels the rest.
func Run(ctx context.Context, spec *Spec) ([]Result, error) {
	results := make([]Result, spec.Replicates)
	g, ctx := errgroup.WithContext(ctx)
	if spec.Parallelism > 0 {
		g.SetLimit(spec.Parallelism)
	}
	for i := range spec.Replicates {
		g.Go(func() error {
			r, err := RunReplicate(ctx, spec, i)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunReplicate builds and runs a single replicate of spec.
func RunReplicate(ctx context.Context, spec *Spec, replicate int) (Result, error) {
	seed := spec.Seed + int64(replicate)
	reg := prometheus.NewRegistry()
	s, err := Build(spec, seed, engine.WithRegisterer(reg))
	if err != nil {
		return Result{}, err
	}
	logrus.Infof("[%s] replicate %d (run %s, seed %d): %d people, %d partitions",
		spec.Name, replicate, s.RunID(), seed, s.World().PopulationSize(), len(s.Partitions().Keys()))
	if err := s.Run(ctx); err != nil {
		return Result{}, err
	}

	res := Result{
		Replicate:  replicate,
		Seed:       seed,
		RunID:      s.RunID(),
		Clock:      s.Clock(),
		Population: s.World().PopulationSize(),
		Executed:   s.Executed(),
		Metrics:    make(map[string]float64),
	}
	for _, key := range s.Partitions().Keys() {
		pr, err := partitionResult(s.Partitions(), key)
		if err != nil {
			return Result{}, err
		}
		res.Partitions = append(res.Partitions, pr)
	}
	if st := s.Trace(); st != nil {
		res.Trace = trace.Summarize(st)
	}

	families, err := reg.Gather()
	if err != nil {
		return Result{}, fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		total := 0.0
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		res.Metrics[mf.GetName()] = total
	}

	logrus.Infof("[%s] replicate %d finished at tick %d: %d people, %d plans",
		spec.Name, replicate, res.Clock, res.Population, res.Executed)
	return res, nil
}

func partitionResult(r *partition.Registry, key partition.Key) (PartitionResult, error) {
	owner, err := r.OwnerOf(key)
	if err != nil {
		return PartitionResult{}, err
	}
	rows, err := r.Breakdown(key, partition.NewLabelSet())
	if err != nil {
		return PartitionResult{}, err
	}
	pr := PartitionResult{Key: string(key), Owner: string(owner)}
	for _, row := range rows {
		pr.Total += row.Count
		pr.Buckets = append(pr.Buckets, trace.BucketCount{Labels: row.Labels.String(), Count: row.Count})
	}
	return pr, nil
}
