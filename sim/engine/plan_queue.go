package engine

import "container/heap"

// PlanID identifies a scheduled plan. IDs are assigned in scheduling order.
type PlanID uint64

// Phase orders plans that share a tick. Lower phases run first.
type Phase int

const (
	// PhaseUpdate is for plans that mutate the population.
	PhaseUpdate Phase = iota
	// PhaseReport is for plans that only observe; they see the tick's final state.
	PhaseReport
)

// PlanFunc is the body of a plan. A returned error aborts the run.
type PlanFunc func(s *Simulator) error

type plan struct {
	id    PlanID
	at    int64
	phase Phase
	owner string
	fn    PlanFunc
}

// planQueue implements a priority queue with deterministic ordering
// Ordering: time → phase → plan ID
type planQueue struct {
	plans     []*plan
	queued    map[PlanID]bool
	cancelled map[PlanID]bool
}

func newPlanQueue() *planQueue {
	q := &planQueue{
		plans:     make([]*plan, 0),
		queued:    make(map[PlanID]bool),
		cancelled: make(map[PlanID]bool),
	}
	heap.Init(q)
	return q
}

// Len implements heap.Interface
func (q *planQueue) Len() int {
	return len(q.plans)
}

// Less implements heap.Interface with deterministic ordering
func (q *planQueue) Less(i, j int) bool {
	pi, pj := q.plans[i], q.plans[j]
	if pi.at != pj.at {
		return pi.at < pj.at
	}
	if pi.phase != pj.phase {
		return pi.phase < pj.phase
	}
	return pi.id < pj.id
}

// Swap implements heap.Interface
func (q *planQueue) Swap(i, j int) {
	q.plans[i], q.plans[j] = q.plans[j], q.plans[i]
}

// Push implements heap.Interface
func (q *planQueue) Push(x interface{}) {
	q.plans = append(q.plans, x.(*plan))
}

// Pop implements heap.Interface
func (q *planQueue) Pop() interface{} {
	old := q.plans
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.plans = old[0 : n-1]
	return item
}

func (q *planQueue) schedule(p *plan) {
	heap.Push(q, p)
	q.queued[p.id] = true
}

// cancel marks a queued plan so it is dropped when it reaches the front.
// IDs that already ran or were never scheduled are ignored.
func (q *planQueue) cancel(id PlanID) {
	if q.queued[id] {
		q.cancelled[id] = true
	}
}

// drop removes the front plan and forgets its bookkeeping.
func (q *planQueue) drop() *plan {
	p := heap.Pop(q).(*plan)
	delete(q.queued, p.id)
	delete(q.cancelled, p.id)
	return p
}

// popNext removes and returns the next live plan, or nil when drained.
func (q *planQueue) popNext() *plan {
	for q.Len() > 0 {
		cancelled := q.cancelled[q.plans[0].id]
		p := q.drop()
		if !cancelled {
			return p
		}
	}
	return nil
}

// peek returns the next live plan without removing it.
func (q *planQueue) peek() *plan {
	for q.Len() > 0 {
		p := q.plans[0]
		if !q.cancelled[p.id] {
			return p
		}
		q.drop()
	}
	return nil
}
