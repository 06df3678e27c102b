package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"osschat/config"
	"osschat/handlers"
	"osschat/internal/chat"
	"osschat/internal/provider"
	"osschat/internal/store"
	"osschat/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger := utils.MustNewLogger(cfg.Logging)
	defer logger.Sync()
	sugar := logger.Sugar()

	if !cfg.HasCredential() {
		sugar.Warn("HF_TOKEN is not set; conversation management works, generation is disabled")
	}

	ctx := context.Background()

	persister, cleanup, err := newPersister(ctx, cfg)
	if err != nil {
		sugar.Fatalf("store: persister init failed: %v", err)
	}
	defer cleanup()

	st, err := store.Open(ctx, persister, sugar)
	if err != nil {
		sugar.Fatalf("store: open failed: %v", err)
	}

	client := provider.NewHFClient(cfg.HFToken, cfg.APIBaseURL)
	selector := provider.NewSelector(client, cfg.ModelCandidates, cfg.ModelFallback, sugar)
	executor := chat.NewExecutor(st, client, selector, provider.Options{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, sugar)

	router := setupRouter(cfg, st, executor, sugar)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // streamed replies can take a while
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("server crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("graceful shutdown failed: %v", err)
	}

	sugar.Info("server stopped cleanly")
}

// newPersister picks the persistence backend: MongoDB when MONGO_URI is
// set, otherwise the JSON file.
func newPersister(ctx context.Context, cfg *config.Config) (store.Persister, func(), error) {
	if cfg.MongoURI != "" {
		mp, err := store.NewMongoPersister(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return mp, func() {
			if err := mp.Close(context.Background()); err != nil {
				zap.S().Warnf("mongo: close error: %v", err)
			}
		}, nil
	}

	fp, err := store.NewFilePersister(cfg.ConversationsFile)
	if err != nil {
		return nil, nil, err
	}
	return fp, func() {}, nil
}

func setupRouter(cfg *config.Config, st *store.Store, executor *chat.Executor, sugar *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"configured": cfg.HasCredential(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
	})

	handlers.NewConversationHandler(st, sugar).RegisterRoutes(router)
	handlers.NewChatHandler(cfg, st, executor, sugar).RegisterRoutes(router)

	return router
}
