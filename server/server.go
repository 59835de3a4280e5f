package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/mailflow/api"
	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/internal/cron"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/repository"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/services"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, mailflowDB *gorm.DB) (*Server, error) {
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	repos := repository.InitRepositories(mailflowDB)

	svcs, err := services.InitServices(cfg, appLogger, repos)
	if err != nil {
		return nil, err
	}

	cronManager := cron.NewCronManager(cfg, appLogger, newKubernetesClient(appLogger), cron.Jobs{
		Orchestrator: svcs.Orchestrator,
		States:       repos.ListenerStateRepository,
		Cache:        svcs.Cache,
		Archive:      svcs.Archive,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// newKubernetesClient returns nil outside a cluster; the cron manager then runs without leader election.
func newKubernetesClient(log logger.Logger) kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Infof("Not running in kubernetes: %v", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Warnf("Failed to create kubernetes client: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	api.RegisterRoutes(s.router, s.services.Orchestrator, s.services.NotificationService,
		s.repositories.ListenerStateRepository, s.repositories.MessageLogRepository, s.config.AppConfig.APIKey)

	if s.services.EventsService != nil {
		if err := s.services.EventsService.ListenNotifications(s.log, s.services.NotificationService); err != nil {
			return err
		}
	}

	return s.cronManager.Start(s.config.CronConfig.PodName, s.config.CronConfig.Namespace)
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		s.log.Errorf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	go s.wrapGoroutine("http_server", func() {
		s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	})

	// listeners connect one by one; the API is already up to take notifications meanwhile
	go s.wrapGoroutine("start_listeners", func() {
		if err := s.services.Orchestrator.StartAll(ctx); err != nil {
			s.log.Warnf("Some listeners failed to start: %v", err)
		}
	})
	s.log.Info("Mailflow is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	s.log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("HTTP server shutdown error: %v", err)
	} else {
		s.log.Info("HTTP server shut down successfully")
	}

	s.cronManager.Stop()

	stopDone := make(chan struct{})
	go s.wrapGoroutine("listeners_shutdown", func() {
		defer close(stopDone)
		if err := s.services.Orchestrator.StopAll(shutdownCtx); err != nil {
			s.log.Errorf("Listener shutdown error: %v", err)
		} else {
			s.log.Info("Listeners stopped successfully")
		}
	})

	select {
	case <-stopDone:
	case <-shutdownCtx.Done():
		s.log.Warn("Listener shutdown timed out, forcing exit")
	}

	if err := s.services.Close(); err != nil {
		s.log.Errorf("Events shutdown error: %v", err)
	}
	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}
	s.log.Sync()

	return nil
}
