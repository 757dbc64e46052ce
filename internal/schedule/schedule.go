// Package schedule runs the engine's background jobs on gocron.
package schedule

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/monitoring"
	"github.com/sells-group/pipeline-intel/internal/queue"
	"github.com/sells-group/pipeline-intel/internal/triage"
)

// Job names.
const (
	JobSweep   = "queue-sweep"
	JobTriage  = "triage-run"
	JobMonitor = "monitoring-check"
	JobPurge   = "artifact-cache-purge"
)

// Sweeper deletes expired queue entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Triager produces ranked triage items.
type Triager interface {
	GenerateQueue(ctx context.Context, req triage.Request) (*triage.Result, error)
}

// Persister stores triage items as queue entries.
type Persister interface {
	Persist(ctx context.Context, ownerID string, items []model.TriageItem) *queue.PersistResult
}

// HealthChecker runs one monitoring check.
type HealthChecker interface {
	Check(ctx context.Context) (*monitoring.Report, error)
}

// CachePurger drops expired artifact drafts.
type CachePurger interface {
	Purge() int
}

// Deps are the collaborators jobs call. Nil members disable their job.
type Deps struct {
	Sweeper   Sweeper
	Triager   Triager
	Persister Persister
	Checker   HealthChecker
	Cache     CachePurger
}

// Scheduler owns the gocron scheduler and the job functions.
type Scheduler struct {
	s    gocron.Scheduler
	deps Deps
	cfg  config.Config
	ctx  context.Context
	log  *zap.Logger
}

// New registers every configured job. Jobs receive ctx, so cancelling it
// aborts in-flight work; Shutdown stops scheduling.
func New(ctx context.Context, cfg config.Config, deps Deps) (*Scheduler, error) {
	loc, err := cfg.Queue.Location()
	if err != nil {
		return nil, err
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, eris.Wrap(err, "schedule: create scheduler")
	}

	sch := &Scheduler{
		s:    s,
		deps: deps,
		cfg:  cfg,
		ctx:  ctx,
		log:  zap.L().With(zap.String("component", "schedule")),
	}
	if err := sch.register(); err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	return sch, nil
}

func (s *Scheduler) register() error {
	if s.deps.Sweeper != nil {
		every := time.Duration(s.cfg.Queue.SweepIntervalMins) * time.Minute
		if every <= 0 {
			every = 15 * time.Minute
		}
		if err := s.add(JobSweep, gocron.DurationJob(every), s.sweep); err != nil {
			return err
		}
	}

	if s.deps.Triager != nil && s.deps.Persister != nil && s.cfg.Schedule.TriageCron != "" {
		if err := s.add(JobTriage, gocron.CronJob(s.cfg.Schedule.TriageCron, false), s.triage); err != nil {
			return err
		}
	}

	if s.deps.Cache != nil {
		every := time.Duration(s.cfg.Artifact.CacheTTLMins) * time.Minute
		if every <= 0 {
			every = 30 * time.Minute
		}
		if err := s.add(JobPurge, gocron.DurationJob(every), s.purge); err != nil {
			return err
		}
	}

	if s.deps.Checker != nil {
		every := time.Duration(s.cfg.Monitoring.CheckIntervalMins) * time.Minute
		if every <= 0 {
			every = 5 * time.Minute
		}
		if err := s.add(JobMonitor, gocron.DurationJob(every), s.monitor); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn func(context.Context) error) error {
	_, err := s.s.NewJob(def,
		gocron.NewTask(func() {
			if err := fn(s.ctx); err != nil {
				s.log.Error("schedule: job failed", zap.String("job", name), zap.Error(err))
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return eris.Wrapf(err, "schedule: register %s", name)
	}
	s.log.Debug("schedule: job registered", zap.String("job", name))
	return nil
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.s.Start()
	s.log.Info("schedule: started", zap.Strings("jobs", s.JobNames()))
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	if err := s.s.Shutdown(); err != nil {
		return eris.Wrap(err, "schedule: shutdown")
	}
	return nil
}

// JobNames lists registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.s.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) sweep(ctx context.Context) error {
	_, err := s.deps.Sweeper.Sweep(ctx)
	return err
}

func (s *Scheduler) triage(ctx context.Context) error {
	res, err := s.deps.Triager.GenerateQueue(ctx, triage.Request{
		OwnerID: s.cfg.Schedule.TriageOwner,
		Limit:   s.cfg.Schedule.TriageLimit,
	})
	if err != nil {
		return eris.Wrap(err, "schedule: triage run")
	}
	pr := s.deps.Persister.Persist(ctx, s.cfg.Schedule.TriageOwner, res.Items)
	s.log.Info("schedule: triage run persisted",
		zap.Int("items", len(res.Items)),
		zap.Int("inserted", pr.Inserted),
		zap.Int("duplicates", pr.Duplicates),
		zap.Int("failed", len(pr.Failed)),
		zap.Bool("partial", res.Partial),
	)
	return nil
}

func (s *Scheduler) purge(context.Context) error {
	if n := s.deps.Cache.Purge(); n > 0 {
		s.log.Debug("schedule: artifact cache purged", zap.Int("removed", n))
	}
	return nil
}

func (s *Scheduler) monitor(ctx context.Context) error {
	_, err := s.deps.Checker.Check(ctx)
	return err
}
