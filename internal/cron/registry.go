package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one step of the settlement cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the jobs in cycle order. Order is significant: payments are
// verified before unpaid ones expire, and stale transfers are reconciled
// before the payout sweep reads the balance.
type Registry struct {
	jobs   []Job
	byName map[string]Job
}

// NewRegistry rejects nil jobs, blank names and duplicates, since jobs are
// addressed by name from the operator CLI.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{byName: make(map[string]Job, len(jobs))}
	for i, job := range jobs {
		if job == nil {
			return nil, fmt.Errorf("job %d is nil", i)
		}
		name := strings.TrimSpace(job.Name())
		if name == "" {
			return nil, fmt.Errorf("job %d has no name", i)
		}
		if _, dup := registry.byName[name]; dup {
			return nil, fmt.Errorf("duplicate job %q", name)
		}
		registry.byName[name] = job
		registry.jobs = append(registry.jobs, job)
	}
	return registry, nil
}

func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.byName[strings.TrimSpace(name)]
	return job, ok
}

// Names lists job names in cycle order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
