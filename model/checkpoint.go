package model

import "time"

type FailedPath struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// InFlightBatch records an asynchronous job submitted but not yet confirmed.
type InFlightBatch struct {
	JobID       string    `json:"job_id" yaml:"job_id"`
	Paths       []string  `json:"paths" yaml:"paths"`
	SubmittedAt time.Time `json:"submitted_at" yaml:"submitted_at"`
}

// Checkpoint is the durable progress record of one deletion plan.
type Checkpoint struct {
	PlanID    string         `json:"plan_id" yaml:"plan_id"`
	RunID     string         `json:"run_id" yaml:"run_id"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
	Completed []string       `json:"completed" yaml:"completed"`
	Absent    []string       `json:"absent,omitempty" yaml:"absent,omitempty"` // completed paths that were already gone
	Failed    []FailedPath   `json:"failed" yaml:"failed"`
	InFlight  *InFlightBatch `json:"in_flight,omitempty" yaml:"in_flight,omitempty"`
	Plan      DeletionPlan   `json:"plan" yaml:"plan"`

	settled map[string]struct{}
}

func NewCheckpoint(plan DeletionPlan, runID string, now time.Time) *Checkpoint {
	return &Checkpoint{
		PlanID:    plan.ID,
		RunID:     runID,
		CreatedAt: now,
		UpdatedAt: now,
		Completed: []string{},
		Failed:    []FailedPath{},
		Plan:      plan,
	}
}

func (c *Checkpoint) index() map[string]struct{} {
	if c.settled == nil {
		c.settled = make(map[string]struct{}, len(c.Completed)+len(c.Failed))
		for _, p := range c.Completed {
			c.settled[p] = struct{}{}
		}
		for _, f := range c.Failed {
			c.settled[f.Path] = struct{}{}
		}
	}
	return c.settled
}

// IsSettled reports whether path is already recorded as deleted or failed.
func (c *Checkpoint) IsSettled(path string) bool {
	_, ok := c.index()[path]
	return ok
}

// Pending returns the plan items not yet settled, in plan order.
func (c *Checkpoint) Pending() []PlanItem {
	idx := c.index()
	var pending []PlanItem
	for _, it := range c.Plan.Candidates {
		if _, ok := idx[it.Path]; !ok {
			pending = append(pending, it)
		}
	}
	return pending
}

func (c *Checkpoint) MarkCompleted(path string) {
	if c.IsSettled(path) {
		return
	}
	c.Completed = append(c.Completed, path)
	c.settled[path] = struct{}{}
}

// MarkAbsent settles a path the provider no longer had. It counts as
// completed but reclaims nothing.
func (c *Checkpoint) MarkAbsent(path string) {
	if c.IsSettled(path) {
		return
	}
	c.MarkCompleted(path)
	c.Absent = append(c.Absent, path)
}

func (c *Checkpoint) MarkFailed(path, reason string) {
	if c.IsSettled(path) {
		return
	}
	c.Failed = append(c.Failed, FailedPath{Path: path, Reason: reason})
	c.settled[path] = struct{}{}
}

// BytesReclaimed sums the plan sizes of paths this plan actually deleted.
func (c *Checkpoint) BytesReclaimed() int64 {
	done := make(map[string]struct{}, len(c.Completed))
	for _, p := range c.Completed {
		done[p] = struct{}{}
	}
	for _, p := range c.Absent {
		delete(done, p)
	}
	var total int64
	for _, it := range c.Plan.Candidates {
		if _, ok := done[it.Path]; ok {
			total += it.SizeBytes
		}
	}
	return total
}
