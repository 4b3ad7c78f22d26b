package internal

import (
	"context"
	"dupguard/internal/controllers"
	"dupguard/internal/platform"
	"dupguard/internal/providers"
	"dupguard/internal/services"
	"dupguard/internal/storage/interfaces"
	"dupguard/internal/structures"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type App struct {
	WebServer  *http.Server
	conf       *structures.Config
	logger     providers.Logger
	source     platform.Source
	bot        *services.Bot
	scheduler  interfaces.SchedulerInterface
	compressor interfaces.CompressorInterface
}

func NewApp(healthController *controllers.HealthController, source platform.Source, bot *services.Bot, scheduler interfaces.SchedulerInterface, compressor interfaces.CompressorInterface, conf *structures.Config, logger providers.Logger, router providers.RouterProviderInterface, metrics providers.MetricsProviderInterface) *App {
	// Inner mux: admin routes
	routes := router.GetRoutes()
	apiMux := http.NewServeMux()
	for _, route := range routes {
		apiMux.Handle(route.Url, route.Handler)
	}

	// Outer mux: infrastructure + instrumented admin API
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthController.Health)
	if conf.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/", providers.MetricsMiddleware(metrics, logger, routes, apiMux))

	return &App{
		WebServer: &http.Server{
			Addr:         conf.WebServer.Host + ":" + strconv.Itoa(conf.WebServer.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 35 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		conf:       conf,
		logger:     logger,
		source:     source,
		bot:        bot,
		scheduler:  scheduler,
		compressor: compressor,
	}
}

// Run starts the bot and blocks until SIGINT/SIGTERM or a fatal error, then
// shuts down and flushes state.
func (a *App) Run() error {
	defer a.logger.Close()
	a.logger.Infof(providers.TypeApp, "Starting %s on %s", a.conf.AppName, a.source.Name())
	if err := a.scheduler.Restore(); err != nil {
		a.logger.Errorf(providers.TypeApp, "Restore error: %s", err)
	}
	a.bot.Prime(time.Now())
	a.scheduler.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	if a.conf.WebServer.Enabled {
		go func() {
			a.logger.Infof(providers.TypeApp, "Listening HTTP clients on %s", a.WebServer.Addr)
			if err := a.WebServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	if err := a.source.Start(ctx, a.bot); err != nil {
		_ = a.shutdown(cancel)
		return fmt.Errorf("start %s: %w", a.source.Name(), err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case <-stop:
		a.logger.Infof(providers.TypeApp, "Shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	if err := a.source.Stop(); err != nil {
		a.logger.Errorf(providers.TypeApp, "Stop %s: %s", a.source.Name(), err)
	}
	if err := a.shutdown(cancel); err != nil && runErr == nil {
		runErr = err
	}
	a.logger.Infof(providers.TypeApp, "gracefully stopped")
	return runErr
}

func (a *App) shutdown(cancel context.CancelFunc) error {
	cancel()
	a.bot.Wait()
	a.scheduler.Stop()

	var errs []error
	if a.conf.WebServer.Enabled {
		ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		errs = append(errs, a.WebServer.Shutdown(ctx))
	}
	errs = append(errs, a.scheduler.Persist())
	a.compressor.Close()
	return errors.Join(errs...)
}
