package block

import (
	"strings"

	"github.com/roach88/blockflow/internal/ir"
	"github.com/roach88/blockflow/internal/scheduler"
)

// Job is a Block that is also an execution scope. It owns a Resolver that
// runs the blocks inside it, and a namespace for ":name" type ids.
//
// A nested job's Resolver queues itself into the parent job's Resolver, so
// all jobs drain within the root's single pass.
type Job struct {
	Block
	resolver  *scheduler.Resolver
	namespace string
}

var (
	_ scheduler.Runnable = (*Block)(nil)
	_ scheduler.Runnable = (*scheduler.Resolver)(nil)
)

func newJob(root *Root, parent *Block, prop *Property) *Job {
	j := &Job{}
	j.init(root, j, parent, prop)
	j.asJob = j
	parentJob := parent.job
	j.resolver = scheduler.NewResolver(func() {
		if !j.destroyed {
			parentJob.resolver.Queue(j.resolver)
		}
	}, scheduler.WithPriority(j.resolverPriority), scheduler.WithLogger(root.logger))
	return j
}

// Resolver returns the job's scheduler.
func (j *Job) Resolver() *scheduler.Resolver { return j.resolver }

// Namespace returns the prefix for ":name" type ids: the explicit
// namespace when set, the job's path otherwise.
func (j *Job) Namespace() string {
	if j.namespace != "" {
		return j.namespace
	}
	return j.Path()
}

// SetNamespace overrides the namespace.
func (j *Job) SetNamespace(ns string) {
	j.namespace = ns
}

// QueueRunnable queues r in this job.
func (j *Job) QueueRunnable(r scheduler.Runnable) {
	j.resolver.Queue(r)
}

func (j *Job) resolverPriority() int {
	if j.priority >= 0 {
		return j.priority
	}
	return 1
}

// RelativePath converts an absolute path into one relative to from, for
// binding across jobs. The result climbs with "###" (owning job) and
// "##.###" (the job above) until it reaches a job whose path prefixes
// target, then descends. ok is false when target lies outside the root.
func RelativePath(from *Block, target string) (string, bool) {
	if from == nil || from.destroyed || !ir.ValidPath(target) {
		return "", false
	}
	var b strings.Builder
	b.WriteString("###")
	job := from.job
	for {
		base := job.Path()
		if base == "" {
			b.WriteString(".")
			b.WriteString(target)
			return b.String(), true
		}
		if rest, ok := strings.CutPrefix(target, base+"."); ok {
			b.WriteString(".")
			b.WriteString(rest)
			return b.String(), true
		}
		if job.parent == nil {
			return "", false
		}
		job = job.parent.job
		b.WriteString(".##.###")
	}
}
