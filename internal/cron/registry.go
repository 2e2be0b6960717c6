package cron

import (
	"context"
	"slices"
)

// Job is one unit of scheduled work. Run must honor ctx cancellation since
// the service cancels it when the cycle lease is lost.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs by name and runs them in registration order.
type Registry struct {
	order  []string
	byName map[string]Job
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{byName: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register adds job, or swaps it in at the original position when its name
// is already registered. Nil jobs are ignored.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	name := job.Name()
	if _, taken := r.byName[name]; !taken {
		r.order = append(r.order, name)
	}
	r.byName[name] = job
}

func (r *Registry) Find(name string) Job {
	return r.byName[name]
}

// Jobs returns a fresh slice the caller may modify.
func (r *Registry) Jobs() []Job {
	out := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names lists job names in run order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}
