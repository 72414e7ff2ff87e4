// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citizen-safety-go/internal/config"
	"citizen-safety-go/internal/handler"
	"citizen-safety-go/internal/middleware"
	"citizen-safety-go/internal/model"
	"citizen-safety-go/internal/pipeline"
	"citizen-safety-go/internal/repository"
	"citizen-safety-go/internal/service"
	"citizen-safety-go/pkg/database"
	"citizen-safety-go/pkg/embedding"
	"citizen-safety-go/pkg/es"
	"citizen-safety-go/pkg/kafka"
	"citizen-safety-go/pkg/llm"
	"citizen-safety-go/pkg/log"
	"citizen-safety-go/pkg/ner"
	"citizen-safety-go/pkg/storage"
	"citizen-safety-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施：MySQL、Redis、MinIO、Elasticsearch、Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	store, err := es.NewStore(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Errorf("向量索引初始化失败: %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 自动迁移登记表结构
	if err := database.DB.AutoMigrate(&model.Document{}, &model.DocumentChunk{}); err != nil {
		log.Errorf("数据库迁移失败: %s", err)
		return
	}

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewDocumentChunkRepository(database.DB)

	// 5. 初始化外部服务客户端与 Service（依赖注入）
	jwtManager := token.NewJWTManager(cfg.JWT.Secret)
	embeddingClient := embedding.NewCachedClient(embedding.NewClient(cfg.Embedding), database.RDB, cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	nerClient := ner.NewClient(cfg.Masking)

	maskingService := service.NewMaskingService(nerClient, cfg.Masking)
	retrievalService := service.NewRetrievalService(embeddingClient, store, cfg.Retrieval)
	generationService := service.NewGenerationService(llmClient, cfg.LLM.Prompt, cfg.Breaker)
	chatService := service.NewChatService(maskingService, retrievalService, generationService, cfg.Retrieval)

	// 6. 初始化文档入库流水线
	corpusStore := storage.NewBucketStore(cfg.MinIO)
	processor := pipeline.NewProcessor(
		embeddingClient,
		store,
		corpusStore,
		cfg.Embedding,
		cfg.Chunking,
		docRepo,
		chunkRepo,
	)
	knowledgeService := service.NewKnowledgeService(store, processor, docRepo, chunkRepo, corpusStore, kafka.ProduceIngestTask)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7.1 种子语料导入：按内容 MD5 幂等，服务重启不会重复入库
	if cfg.Corpus.SeedDir != "" {
		go func() {
			if err := knowledgeService.SeedFromDir(context.Background(), cfg.Corpus.SeedDir); err != nil {
				log.Warnf("种子语料导入失败: %v", err)
			}
		}()
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	chatHandler := handler.NewChatHandler(chatService)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledgeService)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		apiV1.POST("/chat", chatHandler.Chat)

		documents := apiV1.Group("/documents")
		{
			// permanent=true 需要管理员角色，由 handler 内部校验
			documents.POST("/upload", knowledgeHandler.Upload)
		}

		kb := apiV1.Group("/knowledge-base")
		{
			kb.GET("/status", knowledgeHandler.Status)

			// 破坏性维护操作仅限管理员
			admin := kb.Group("/")
			admin.Use(middleware.AdminAuthMiddleware())
			{
				admin.POST("/rebuild", knowledgeHandler.Rebuild)
				admin.POST("/clear-temporary", knowledgeHandler.ClearTemporary)
			}
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
