package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumenlearn/coursegen-backend/internal/clients/openai"
	"github.com/lumenlearn/coursegen-backend/internal/clients/redis"
	"github.com/lumenlearn/coursegen-backend/internal/data"
	"github.com/lumenlearn/coursegen-backend/internal/data/repos"
	"github.com/lumenlearn/coursegen-backend/internal/db"
	"github.com/lumenlearn/coursegen-backend/internal/http/handlers"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
	"github.com/lumenlearn/coursegen-backend/internal/services"
	"github.com/lumenlearn/coursegen-backend/internal/sse"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config
	Hub    *sse.Hub

	genService services.CourseGenerationService
	bus        redis.EventBus
	cancel     context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	hub := sse.NewHub(log)

	bus, err := redis.NewEventBus(log)
	if err != nil {
		// The app still works single-instance without the bus; events then
		// only reach clients connected to the worker's own instance.
		log.Warn("Redis event bus unavailable; SSE limited to this instance", "error", err.Error())
		bus = nil
	}

	aiClient, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	courseRepo := repos.NewCourseRepo(theDB, log)
	outlineRepo := repos.NewOutlineRepo(theDB, log)
	runRepo := repos.NewGenerationRunRepo(theDB, log)

	store := data.NewCourseStore(theDB, log, courseRepo, outlineRepo)
	notifier := services.NewNotifier(log, bus)

	genService := services.NewCourseGenerationService(
		log, theDB, courseRepo, runRepo, store, aiClient, aiClient, notifier, cfg.Generation)

	genHandler := handlers.NewGenerationHandler(log, genService, hub)
	router := newRouter(genHandler)

	return &App{
		Log:        log,
		DB:         theDB,
		Router:     router,
		Cfg:        cfg,
		Hub:        hub,
		genService: genService,
		bus:        bus,
	}, nil
}

// Start launches the background worker and the bus-to-hub forwarder.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.genService.StartWorker(ctx)

	if a.bus != nil {
		if err := a.bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			a.Log.Warn("Event forwarder failed to start", "error", err.Error())
		}
	}
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
