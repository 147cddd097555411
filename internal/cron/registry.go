package cron

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Job is one piece of periodic work. A cycle can be cut short by the job timeout, so Run must
// tolerate being repeated on the next tick.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry is the ordered set of jobs a worker runs. Names are unique.
type Registry struct {
	order  []string
	byName map[string]Job
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{byName: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("cron job is nil")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("cron job %T has no name", job)
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.order = append(r.order, name)
	r.byName[name] = job
	return nil
}

// Lookup returns the job registered under name.
func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.byName[name]
	return job, ok
}

func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.order))
	for i, name := range r.order {
		jobs[i] = r.byName[name]
	}
	return jobs
}

func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}
