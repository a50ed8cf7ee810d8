package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"postflow/internal/config"
	"postflow/internal/eventbus"
	"postflow/internal/jobs"
	"postflow/internal/metrics"
	"postflow/internal/observability/pprof"
	"postflow/internal/platform"
	"postflow/internal/posts"
	"postflow/internal/queue"
	"postflow/internal/storage"
	"postflow/pkg/logx"
)

// App wires the services together and owns their lifecycle.
type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	met    *metrics.Metrics
	metSrv *metrics.Server
	pprof  *pprof.Service
	store  storage.Store

	reg      *platform.Registry
	postsSvc *posts.Service
	queueMgr *queue.Manager
	jobsSvc  *jobs.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	met := metrics.New()

	var metSrv *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metSrv = metrics.NewServer(met, cfg.Metrics.Addr, log.With(logx.String("comp", "metrics")))
	}

	var pprofSvc *pprof.Service
	if cfg.Pprof != nil {
		pprofSvc = pprof.New(pprof.Config{
			Enabled:              cfg.Pprof.Enabled,
			Addr:                 cfg.Pprof.Addr,
			Prefix:               cfg.Pprof.Prefix,
			MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
			BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		}, log.With(logx.String("comp", "pprof")))
	}

	var store storage.Store
	if sc, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if st, err := storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
		return nil, err
	} else if st != nil {
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	reg := platform.NewRegistry(log.With(logx.String("comp", "platform")))
	enabled, err := enabledPlatforms(cfg)
	if err != nil {
		return nil, err
	}
	for kind, rate := range enabled {
		reg.Register(platform.NewFake(kind), rate)
	}

	pcfg, err := mapPostsConfig(cfg)
	if err != nil {
		return nil, err
	}
	postsSvc := posts.New(pcfg, reg, log.With(logx.String("comp", "posts")), bus)
	postsSvc.SetStore(store)
	postsSvc.SetMetrics(met)

	queueMgr := queue.NewManager(postsSvc, log.With(logx.String("comp", "queue")))
	queueMgr.SetMetrics(met)
	queueMgr.SetBus(bus)

	jcfg, err := mapJobsConfig(cfg)
	if err != nil {
		return nil, err
	}
	jobsSvc := jobs.New(jcfg, log.With(logx.String("comp", "jobs")), bus)
	jobsSvc.SetStore(store)
	jobsSvc.SetMetrics(met)

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		met:      met,
		metSrv:   metSrv,
		pprof:    pprofSvc,
		store:    store,
		reg:      reg,
		postsSvc: postsSvc,
		queueMgr: queueMgr,
		jobsSvc:  jobsSvc,
	}
	if cfg.Jobs.Enabled {
		if err := a.registerJobs(cfg.Jobs.MaxRetries); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Posts exposes the post scheduler for embedding callers.
func (a *App) Posts() *posts.Service { return a.postsSvc }

// Queues exposes the content queue manager.
func (a *App) Queues() *queue.Manager { return a.queueMgr }

// Jobs exposes the job service.
func (a *App) Jobs() *jobs.Service { return a.jobsSvc }

// registerJobs wires the recurring passes over the post table. The job IDs
// are stable; dashboards and alerts key on them.
func (a *App) registerJobs(maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	specs := []jobs.Job{
		{
			ID:       jobs.PublisherJobID,
			Name:     "publish due posts",
			Schedule: "every minute",
			Handler: func(ctx context.Context) error {
				_, err := a.postsSvc.ProcessScheduledPosts(ctx)
				return err
			},
		},
		{
			ID:       jobs.RecurringJobID,
			Name:     "generate recurring posts",
			Schedule: "daily",
			Handler: func(ctx context.Context) error {
				_, err := a.postsSvc.GenerateRecurringPosts(ctx)
				return err
			},
		},
		{
			ID:       jobs.AnalyticsJobID,
			Name:     "collect post analytics",
			Schedule: "every 6 hours",
			Handler: func(ctx context.Context) error {
				_, err := a.postsSvc.CollectAnalytics(ctx)
				return err
			},
		},
		{
			ID:       jobs.QueueDrainJobID,
			Name:     "drain auto-publish queues",
			Schedule: "every 15 minutes",
			Handler: func(ctx context.Context) error {
				_, err := a.queueMgr.ProcessAll(ctx)
				return err
			},
		},
	}
	for _, j := range specs {
		j.Kind = jobs.KindScheduled
		j.Enabled = true
		j.MaxRetries = maxRetries
		if err := a.jobsSvc.AddJob(j); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.metSrv != nil {
		a.metSrv.Start()
	}
	if a.pprof != nil {
		a.pprof.Start()
	}
	if err := a.jobsSvc.Start(runCtx); err != nil {
		return err
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapPostsConfig(cfg); err != nil {
			return err
		}
		if _, err := mapJobsConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := enabledPlatforms(cfg); err != nil {
			return err
		}
		return nil
	})

	// Debug trace of bus traffic; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	// Config hot-reload fan-out. Logging applies live; storage and platform
	// wiring need a restart.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				if pcfg, err := mapPostsConfig(newCfg); err == nil {
					a.postsSvc.ApplyConfig(pcfg)
				}
				a.log.Info("config reloaded")
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("jobs", 5*time.Second, func(c context.Context) error { a.jobsSvc.Stop(); return nil })
	if a.cancel != nil {
		a.cancel()
	}
	step("metrics", 2*time.Second, func(c context.Context) error {
		if a.metSrv != nil {
			a.metSrv.Stop(c)
		}
		return nil
	})
	step("pprof", time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})
	step("storage", 2*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.wg.Wait()
	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
