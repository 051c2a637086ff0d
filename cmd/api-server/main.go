// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storybook-hub/internal/apiserver/auth"
	"storybook-hub/internal/apiserver/server"
	"storybook-hub/internal/config"
	"storybook-hub/internal/shared/objstore"
	"storybook-hub/internal/shared/storage"
	"storybook-hub/internal/shared/storage/cached"
	"storybook-hub/internal/shared/storage/firestore"
	"storybook-hub/internal/shared/storage/mongostore"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换环境）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化元数据存储（按配置选择事务后端或 REST 后端）
	store, closeStore, err := newBuildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metadata store: %v", err)
	}
	defer closeStore()

	// 可选的 Redis 读缓存
	if cfg.RedisURL != "" {
		cachedStore, err := cached.NewStore(store, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer cachedStore.Close()
		store = cachedStore
	}

	// 初始化对象存储
	blobs, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to create object storage client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := blobs.EnsureBucket(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ensure bucket: %v", err)
	}
	cancel()
	log.Println("Connected to object storage")

	h := server.NewHandler(store, blobs, auth.Config{APIKeyHashes: cfg.APIKeyHashes})

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  5 * time.Minute, // 大压缩包上传
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

// newBuildStore 按配置构造元数据存储
func newBuildStore(cfg *config.Config) (storage.BuildStore, func(), error) {
	switch cfg.Metadata.Backend {
	case config.BackendFirestore:
		creds, err := os.ReadFile(cfg.Firestore.CredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read firestore credentials: %w", err)
		}
		s, err := firestore.NewStore(cfg.Firestore.BaseURL, creds)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Using Firestore REST metadata backend (weak counter guarantees)")
		return s, func() {}, nil
	default:
		s, err := mongostore.NewStore(cfg.Metadata.MongoURI, cfg.Metadata.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Connected to MongoDB")
		return s, func() { s.Close() }, nil
	}
}
