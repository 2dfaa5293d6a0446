package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/scriptrt/internal/api"
	"github.com/l1jgo/scriptrt/internal/capability"
	"github.com/l1jgo/scriptrt/internal/config"
	"github.com/l1jgo/scriptrt/internal/core/ecs"
	"github.com/l1jgo/scriptrt/internal/core/event"
	"github.com/l1jgo/scriptrt/internal/core/fault"
	"github.com/l1jgo/scriptrt/internal/core/sched"
	"github.com/l1jgo/scriptrt/internal/data"
	"github.com/l1jgo/scriptrt/internal/lifecycle"
	"github.com/l1jgo/scriptrt/internal/metrics"
	"github.com/l1jgo/scriptrt/internal/persist"
	"github.com/l1jgo/scriptrt/internal/scripting"
	"github.com/l1jgo/scriptrt/internal/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// --- startup display ---

func printSection(title string) {
	n := 46 - len(title) - 1
	if n < 3 {
		n = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", n))
}

func printStat(label string, count int) {
	num := fmt.Sprintf("%d", count)
	dots := 42 - len(label) - len(num)
	if dots < 3 {
		dots = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dots), num)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// --- main loop ---

func run() error {
	// 1. Config and logger
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 3. Core runtime
	world := ecs.NewWorld()
	guard := fault.NewGuard(log, nil)
	scheduler := sched.New(guard, sched.SystemClock{})
	bus := event.NewBus(guard)
	builder := capability.NewBuilder(scheduler, bus, capability.WorldProviders(world), log, capability.Options{
		ConsoleRate:  cfg.Scripts.ConsoleRate,
		ConsoleBurst: cfg.Scripts.ConsoleBurst,
	})
	host := scripting.NewHost(guard, builder, log)
	coord := lifecycle.New(lifecycle.Config{Budget: cfg.Scheduler.Budget}, scheduler, bus, host, log)
	coord.Watch(world)

	live := system.NewMetricsSystem(m, coord.Timers(), scheduler, bus, host)
	coord.Register(live)

	// 4. Optional fault journal
	var journal *system.FaultJournal
	if cfg.Database.Enabled {
		printSection("Database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		version, err := persist.RunMigrations(ctx, db.Pool, log)
		cancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("schema version %d", version))

		journal = system.NewFaultJournal(persist.NewFaultRepo(db), m, system.DefaultJournalOptions(), log)
		journal.Names = func(id ecs.EntityID) string {
			if inst, ok := host.Instance(id); ok {
				return inst.Name()
			}
			return ""
		}
		journal.Start()
		defer journal.Stop()
		coord.Register(journal)
	}
	guard.SetReporter(func(cerr *fault.CallbackError) {
		m.RecordFault(cerr.Kind)
		if journal != nil {
			journal.Report(cerr)
		}
	})

	// 5. Behaviors and scene
	printSection("Behaviors")
	scripts, err := scripting.LoadDir(cfg.Scripts.Dir, log)
	if err != nil {
		return fmt.Errorf("load scripts: %w", err)
	}
	printStat("compiled scripts", len(scripts))

	scene, err := data.LoadScene(cfg.Scripts.Scene)
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}
	attached, err := populate(world, host, scene, scripts, scripting.LuaOptions{CallTimeout: cfg.Scripts.CallbackTimeout}, log)
	if err != nil {
		return err
	}
	printStat("entities", world.Len())
	printStat("attached behaviors", attached)

	// 6. Metrics endpoint
	var srv *api.Server
	if cfg.Metrics.Enabled {
		srv = api.NewServer(cfg.Metrics.BindAddress, api.NewRouter(api.RouterConfig{
			Gatherer: reg,
			Status: func() api.Status {
				l := live.Live()
				return api.Status{
					Frame:         l.Frame,
					Instances:     l.Instances,
					Timers:        l.Timers,
					Subscriptions: l.Subscriptions,
					Deferred:      l.Deferred,
				}
			},
			Stale: 10 * cfg.Loop.TickRate,
		}), log)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
	}

	// 7. Frame loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Loop.TickRate)
	defer ticker.Stop()

	printSection("Ready")
	printReady(fmt.Sprintf("frame loop running (tick: %s, budget: %s)", cfg.Loop.TickRate, cfg.Scheduler.Budget))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			coord.Tick(cfg.Loop.TickRate)
			m.RecordFrame(time.Since(start))
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			// onDestroy faults still reach the journal, which drains on Stop
			released := coord.Shutdown()
			if srv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := srv.Shutdown(ctx); err != nil {
					log.Warn("metrics endpoint shutdown", zap.Error(err))
				}
				cancel()
			}
			log.Info("runtime stopped",
				zap.Uint64("frames", coord.Frame()),
				zap.Int("released", released),
			)
			return nil
		}
	}
}

// populate spawns every scene entity and attaches its behavior. A behavior
// that fails to instantiate is logged and skipped; the entity stays.
func populate(w *ecs.World, host *scripting.Host, scene *data.Scene, scripts map[string]*scripting.LuaScript, opts scripting.LuaOptions, log *zap.Logger) (int, error) {
	attached := 0
	for i := range scene.Entities {
		e := &scene.Entities[i]
		spawn, err := e.Spawn()
		if err != nil {
			return attached, fmt.Errorf("scene entity %q: %w", e.Name, err)
		}
		id, err := w.Spawn(spawn)
		if err != nil {
			return attached, err
		}
		if e.Script == "" {
			continue
		}
		script, ok := scripts[e.Script]
		if !ok {
			log.Warn("behavior not found", zap.String("entity", e.Name), zap.String("script", e.Script))
			continue
		}
		b, err := script.Instantiate(e.Params, opts)
		if err != nil {
			log.Error("behavior failed to load", zap.String("entity", e.Name), zap.Error(err))
			continue
		}
		if _, err := host.Attach(id, b); err != nil {
			b.Release()
			log.Error("attach behavior", zap.String("entity", e.Name), zap.Error(err))
			continue
		}
		attached++
	}
	return attached, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
