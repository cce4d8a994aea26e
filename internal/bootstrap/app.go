package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"deckqa/internal/ai"
	"deckqa/internal/app"
	"deckqa/internal/cache"
	"deckqa/internal/chunker"
	"deckqa/internal/config"
	"deckqa/internal/model"
	"deckqa/internal/parser"
	mysqlClient "deckqa/internal/platform/mysql"
	rabbitmqClient "deckqa/internal/platform/rabbitmq"
	redisClient "deckqa/internal/platform/redis"
	"deckqa/internal/repository"
	"deckqa/internal/retrieval"
	"deckqa/internal/store"
	"deckqa/internal/worker"
)

// App owns every long-lived resource. MySQL, Redis and MQConn are nil when
// the matching infrastructure is disabled.
type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Store      *store.MemoryStore
	LocalIndex *retrieval.LocalIndex
	LLM        *ai.Client
	Retrieval  *retrieval.Client
	Query      *app.QueryService
	Ingest     *app.IngestService
	Turns      *repository.QATurnRepository

	TurnWorker   *worker.TurnPersistWorker
	MirrorWorker *worker.IngestMirrorWorker
	directMirror *app.DirectMirror

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	a := &App{
		Config:     cfg,
		Store:      store.NewMemoryStore(),
		LocalIndex: retrieval.NewLocalIndex(),
		StartedAt:  time.Now(),
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	llm, err := ai.NewClient(ai.Config{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		CacheDir:          cfg.LLM.CacheDir,
		MaxRetries:        cfg.LLM.MaxRetries,
		InitialBackoff:    time.Duration(cfg.LLM.InitialBackoffMS) * time.Millisecond,
		MaxInputChars:     cfg.LLM.MaxInputChars,
		RequestTimeout:    time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second,
		EmbedTimeout:      time.Duration(cfg.LLM.EmbedTimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	})
	if err != nil {
		return fmt.Errorf("create llm client failed: %w", err)
	}
	a.LLM = llm
	if cfg.LLM.APIKey == "" {
		log.Printf("llm api key is empty, generative answers are disabled")
	}

	a.Retrieval = retrieval.NewClient(retrieval.Config{
		PrimaryURL:      cfg.Retrieval.PrimaryURL,
		FallbackURL:     cfg.Retrieval.FallbackURL,
		ConnectTimeout:  time.Duration(cfg.Retrieval.ConnectTimeoutSeconds) * time.Second,
		PrimaryTimeout:  time.Duration(cfg.Retrieval.PrimaryTimeoutSeconds) * time.Second,
		FallbackTimeout: time.Duration(cfg.Retrieval.FallbackTimeoutSeconds) * time.Second,
	})

	var documentParser app.DocumentParser = parser.NewLocalParser()
	if cfg.Parser.Enabled {
		documentParser = parser.NewADEClient(parser.Config{
			BaseURL: cfg.Parser.BaseURL,
			APIKey:  cfg.Parser.APIKey,
			Model:   cfg.Parser.Model,
			Timeout: time.Duration(cfg.Parser.TimeoutSeconds) * time.Second,
		})
	}

	var (
		records       app.DocumentRecorder
		mirrorStatus  app.MirrorStatusStore
		conversations app.ConversationCache
		turns         app.TurnPublisher = app.LogTurnPublisher{}
		mirror        app.Mirror
		history       app.AnswerHistory = app.NewMemoryAnswerHistory(cfg.DedupWindow())
		ingestOpts    []app.IngestOption
	)
	if responses := a.LLM.Cache(); responses != nil {
		ingestOpts = append(ingestOpts, app.WithResponseCache(responses))
	}

	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN(), &model.DocumentRecord{}, &model.QATurn{})
		if err != nil {
			return err
		}
		a.MySQL = db
		documents := repository.NewDocumentRepository(db)
		records, mirrorStatus = documents, documents
		a.Turns = repository.NewQATurnRepository(db)
	}

	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.Redis = client
		conversationCache := cache.NewConversationCache(client,
			time.Duration(cfg.Redis.ConversationTTLSeconds)*time.Second, cfg.Query.HistoryTurns)
		conversations = conversationCache
		ingestOpts = append(ingestOpts, app.WithConversationCache(conversationCache))
		history = cache.NewAnswerHistory(client, cfg.DedupWindow())
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.TurnPersistQueue, cfg.RabbitMQ.IngestMirrorQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn
		publisher := rabbitmqClient.NewPublisher(conn)

		a.MirrorWorker = worker.NewIngestMirrorWorker(conn, a.Retrieval, mirrorStatus, cfg.RabbitMQ.IngestMirrorQueue)
		if err := a.MirrorWorker.Start(ctx); err != nil {
			return fmt.Errorf("start ingest mirror worker failed: %w", err)
		}
		mirror = app.NewQueueMirror(publisher, cfg.RabbitMQ.IngestMirrorQueue)

		if a.Turns != nil {
			a.TurnWorker = worker.NewTurnPersistWorker(conn, a.Turns, cfg.RabbitMQ.TurnPersistQueue)
			if err := a.TurnWorker.Start(ctx); err != nil {
				return fmt.Errorf("start turn persist worker failed: %w", err)
			}
			turns = app.NewQueueTurnPublisher(publisher, cfg.RabbitMQ.TurnPersistQueue)
		}
	} else {
		a.directMirror = app.NewDirectMirror(a.Retrieval, mirrorStatus)
		mirror = a.directMirror
	}

	a.Query = app.NewQueryService(a.Store, a.LLM, a.Retrieval, history, conversations, turns, app.QueryConfig{
		TopK:                cfg.Query.TopK,
		MinAnswerChars:      cfg.Query.MinAnswerChars,
		SimilarityThreshold: cfg.Query.SimilarityThreshold,
		HistoryTurns:        cfg.Query.HistoryTurns,
	})
	a.Ingest = app.NewIngestService(
		a.Store,
		documentParser,
		a.LLM,
		chunker.New(chunker.WithChunkSize(cfg.Chunking.Size), chunker.WithOverlap(cfg.Chunking.Overlap)),
		records,
		mirror,
		a.Retrieval,
		cfg.MaxUploadBytes(),
		ingestOpts...,
	)
	return nil
}

// Close stops workers before the connections they consume from.
func (a *App) Close() error {
	var closeErr error
	if a.TurnWorker != nil {
		a.TurnWorker.Close()
	}
	if a.MirrorWorker != nil {
		a.MirrorWorker.Close()
	}
	if a.directMirror != nil {
		a.directMirror.Wait()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
