package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/DRSN-tech/image-gallery/internal/cfg"
	v1Http "github.com/DRSN-tech/image-gallery/internal/delivery/v1/http"
	"github.com/DRSN-tech/image-gallery/internal/infrastructure/kafka"
	ml_service "github.com/DRSN-tech/image-gallery/internal/infrastructure/ml-service"
	"github.com/DRSN-tech/image-gallery/internal/infrastructure/openai"
	"github.com/DRSN-tech/image-gallery/internal/infrastructure/thumbnail"
	"github.com/DRSN-tech/image-gallery/internal/repository/local"
	s3Repo "github.com/DRSN-tech/image-gallery/internal/repository/minio"
	"github.com/DRSN-tech/image-gallery/internal/repository/pgdb"
	pgdbConv "github.com/DRSN-tech/image-gallery/internal/repository/pgdb/converter"
	qdrantRepo "github.com/DRSN-tech/image-gallery/internal/repository/qdrant"
	"github.com/DRSN-tech/image-gallery/internal/repository/redis"
	"github.com/DRSN-tech/image-gallery/internal/usecase"
	"github.com/DRSN-tech/image-gallery/pkg/clients"
	"github.com/DRSN-tech/image-gallery/pkg/closer"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/DRSN-tech/image-gallery/pkg/postgres"
	"github.com/DRSN-tech/image-gallery/pkg/tr"
	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
)

const (
	initTimeout     = 10 * time.Second
	shutdownTimeout = 15 * time.Second
	topicTimeout    = 10 * time.Second
)

// App собранное приложение: HTTP API поверх индекса Qdrant и фоновый воркер outbox.
type App struct {
	cfg      *config.Config
	logger   logger.Logger
	closer   *closer.Closer
	httpSrv  *v1Http.Server
	worker   *kafka.OutboxWorker
	uploadUC *usecase.UploadUseCase

	// appCtx живёт до конца graceful shutdown, на нём работают воркер и фоновые очистки
	appCtx    context.Context
	appCancel context.CancelFunc
}

// NewApp подключает внешние зависимости и собирает use case'ы.
// При ошибке уже открытые ресурсы закрываются.
func NewApp(cfg *config.Config, log logger.Logger) (_ *App, err error) {
	appCtx, appCancel := context.WithCancel(context.Background())
	a := &App{
		cfg:       cfg,
		logger:    log,
		closer:    closer.NewCloser(0),
		appCtx:    appCtx,
		appCancel: appCancel,
	}
	defer func() {
		if err != nil {
			appCancel()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if closeErr := a.closer.Close(ctx); closeErr != nil {
				log.Warnf("cleanup after failed start: %v", closeErr)
			}
		}
	}()

	initCtx, initCancel := context.WithTimeout(appCtx, initTimeout)
	defer initCancel()

	db, err := initPGDB(initCtx, log, cfg)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add("postgres", closer.Release(db.Close))

	qdrantClient, err := clients.NewQdrantClient(cfg.Qdrant)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add("qdrant", closer.Close(qdrantClient.Close))

	if err := clients.EnsureCollection(initCtx, qdrantClient, log); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redisClient := clients.NewRedisClient(cfg.Redis)
	a.closer.Add("redis", closer.Close(redisClient.Client.Close))
	if err := redisClient.Ping(initCtx); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	storage, staticRoot, err := initStorage(initCtx, log, cfg.Storage)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	mlConn, err := clients.NewMLClient(cfg.Ml)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add("ml-service", closer.Close(mlConn.Close))

	clip := ml_service.NewMLService(mlConn, cfg.Ml, log)
	if err := clip.HealthCheck(initCtx); err != nil {
		// ML-сервис может подняться позже, вызовы повторяются
		log.Warnf("ml service is not ready yet: %v", err)
	}

	// интерфейсная переменная остаётся nil, если OCR-пространство выключено
	var textEmbedder usecase.TextEmbedder
	if cfg.OpenAI.Enabled {
		textEmbedder = openai.NewEmbedder(cfg.OpenAI, log)
	} else {
		log.Infof("text-contained embedder is disabled, ocr basis searches will be rejected")
	}

	producer, err := kafka.NewProducer(log, cfg.Kafka)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add("kafka producer", closer.Close(producer.Close))

	if err := producer.EnsureTopic(topicTimeout); err != nil {
		log.Warnf("failed to ensure kafka topic %s: %v", cfg.Kafka.Topic, err)
	}

	imageRepo := qdrantRepo.NewImageRepo(qdrantClient.Client, cfg.Qdrant, log)
	cacheRepo := redis.NewEmbeddingCacheRepo(redisClient.Client, cfg.Redis, log)
	outboxRepo := pgdb.NewOutboxEventRepo(db.Pool, pgdbConv.NewOutboxEventConverter())
	txManager := tr.NewManager(db.Pool)

	thumbnails := thumbnail.NewGenerator(cfg.Upload.ThumbnailSize)

	searchUC := usecase.NewSearchUC(imageRepo, clip, textEmbedder, cacheRepo, storage, log)
	adminUC := usecase.NewAdminUC(imageRepo, storage, outboxRepo, txManager, log)
	a.uploadUC = usecase.NewUploadUC(
		imageRepo,
		clip,
		textEmbedder,
		thumbnails,
		storage,
		outboxRepo,
		txManager,
		cfg.Upload,
		log,
		appCtx,
	)

	maintenanceUC := usecase.NewMaintenanceUC(
		imageRepo,
		textEmbedder,
		thumbnails,
		storage,
		outboxRepo,
		txManager,
		cfg.Upload.BatchSize,
		log,
	)

	a.worker = kafka.NewOutboxWorker(outboxRepo, log, producer, db.Dsn)

	r := chi.NewRouter()
	router := v1Http.NewRouter(r, log)
	router.Init(&v1Http.Deps{
		Search:       searchUC,
		Admin:        adminUC,
		Upload:       a.uploadUC,
		Maintenance:  maintenanceUC,
		AdminCfg:     cfg.Admin,
		MaxImageSize: cfg.Upload.MaxSizeBytes,
		StaticRoot:   staticRoot,
	})
	a.httpSrv = v1Http.NewServer(r, cfg.Http)

	return a, nil
}

// Run запускает HTTP-сервер и воркер outbox и блокируется до сигнала завершения.
func (a *App) Run() error {
	a.worker.Start(a.appCtx)
	a.closer.Add("outbox worker", closer.Release(a.worker.Stop))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := a.httpSrv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// closer работает в порядке LIFO: сначала останавливается приём запросов, затем дожидаемся очисток
	a.closer.Add("storage cleanup", a.uploadUC.WaitForCleanup)
	a.closer.Add("http server", a.httpSrv.Stop)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var appErr error
	select {
	case appErr = <-errCh:
		a.logger.Errorf(appErr, "HTTP server fatal error")
	case <-shutdown:
		a.logger.Infof("Received shutdown signal, stopping gracefully...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.closer.Close(ctx); err != nil {
		a.logger.Errorf(err, "shutdown error")
		if appErr == nil {
			appErr = err
		}
	}
	a.appCancel()

	a.logger.Infof("Application shutdown complete")
	return appErr
}

func initPGDB(ctx context.Context, logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(ctx, cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		logger.Errorf(err, "failed to run migrations")
		db.Close()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}

// initStorage выбирает хранилище файлов по STORAGE_METHOD.
// Для локального варианта возвращает корень, раздаваемый как /static.
func initStorage(ctx context.Context, log logger.Logger, cfg *config.StorageCfg) (usecase.Storage, string, error) {
	switch cfg.Method {
	case config.StorageS3:
		mc, err := clients.NewMinIOClient(cfg.Minio)
		if err != nil {
			return nil, "", e.Wrap(whereami.WhereAmI(), err)
		}

		if err := clients.EnsureBucket(ctx, mc, cfg.Minio.BucketName); err != nil {
			return nil, "", e.Wrap(whereami.WhereAmI(), err)
		}

		log.Infof("using s3 storage, bucket %s", cfg.Minio.BucketName)
		return s3Repo.NewStorage(mc, cfg.Minio, log), "", nil
	default:
		storage, err := local.NewStorage(cfg.LocalPath, log)
		if err != nil {
			return nil, "", e.Wrap(whereami.WhereAmI(), err)
		}

		log.Infof("using local storage at %s", storage.Root())
		return storage, storage.Root(), nil
	}
}
