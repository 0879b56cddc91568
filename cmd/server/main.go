// Package main 是应用程序的入口点。
package main

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sentorial-chat/internal/config"
	"sentorial-chat/internal/handler"
	"sentorial-chat/internal/middleware"
	"sentorial-chat/internal/model"
	"sentorial-chat/internal/pipeline"
	"sentorial-chat/internal/repository"
	"sentorial-chat/internal/scheduler"
	"sentorial-chat/internal/service"
	"sentorial-chat/pkg/database"
	"sentorial-chat/pkg/kafka"
	"sentorial-chat/pkg/llm"
	"sentorial-chat/pkg/log"
	"sentorial-chat/pkg/metrics"
	"sentorial-chat/pkg/storage"
	"sentorial-chat/pkg/token"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 记录已导入过的初始化文件 md5
const seededFilesKey = "initfile:imported"

func main() {
	// 0. 可选的 .env 文件，便于本地开发注入 LLM_API_KEY 等变量
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "加载 .env 失败: %v\n", err)
	}

	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、MinIO 和 Kafka
	database.InitMySQL(cfg.Database.MySQL)
	defer database.CloseMySQL()
	if err := database.Migrate(database.DB); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis)
	defer database.CloseRedis()
	storage.InitMinIO(cfg.MinIO)
	objectStore := storage.NewObjectStore(storage.MinioClient, cfg.MinIO.BucketName)
	kafka.InitProducer(cfg.Kafka)
	defer kafka.CloseProducer()

	// 4. 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("sentorial_chat", registry)

	// 5. 初始化 Repository
	responseRepo := repository.NewResponseRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB, database.RDB)
	unknownRepo := repository.NewUnknownQuestionRepository(database.RDB)
	quickRepo := repository.NewQuickMessageRepository(database.RDB)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	seeded, err := responseRepo.SeedDefaults(seedCtx, model.DefaultResponses)
	cancelSeed()
	if err != nil {
		log.Fatal("写入默认应答失败", err)
	}
	if seeded {
		log.Infof("应答表为空, 已写入 %d 条默认应答", len(model.DefaultResponses))
	}

	// 6. 初始化应答解析流程与 Service (依赖注入)
	var generative *pipeline.Generative
	if llmClient, err := llm.NewClient(cfg.LLM); err != nil {
		log.Warnf("生成式应答不可用, 将跳过该阶段: %v", err)
	} else {
		generative = pipeline.NewGenerative(llmClient, cfg.LLM.Prompt, m)
	}
	recorder := pipeline.NewRecorder(unknownRepo, cfg.Chat.SubmitterID)
	var answerer pipeline.Answerer
	if generative != nil {
		answerer = generative
	}
	resolverFactory := service.NewResolverFactory(responseRepo, answerer, recorder, cfg.Chat, m)

	jwtManager := token.NewJWTManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpireHours)
	authService := service.NewAuthService(cfg.Admin.PassphraseHash, jwtManager, database.RDB)
	chatService := service.NewChatService(messageRepo, quickRepo, resolverFactory, time.Duration(cfg.Chat.SessionIdleMinutes)*time.Minute, m)
	adminService := service.NewAdminService(responseRepo, unknownRepo, quickRepo, objectStore, kafka.Queue{})

	// 7. 启动后台 Kafka 消费者，处理应答表导入任务
	processor := pipeline.NewProcessor(objectStore, responseRepo, m)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go kafka.StartConsumer(consumerCtx, cfg.Kafka, database.RDB, processor)

	// 7.1 导入 initfile 目录下的应答表文件，已导入则跳过
	go initSeedFiles(consumerCtx, "initfile", database.RDB, adminService)

	// 7.2 定时备份
	sched := scheduler.New(cfg.Scheduler.BackupCron, adminService.BackupResponses)
	if err := sched.Start(); err != nil {
		log.Fatal("启动调度器失败", err)
	}
	defer sched.Stop()

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok", "data": nil})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler(registry)))

	// 9. 注册路由
	messageHandler := handler.NewMessageHandler(chatService)
	authHandler := handler.NewAuthHandler(authService)
	adminHandler := handler.NewAdminHandler(adminService)

	apiV1 := r.Group("/api/v1")
	{
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.POST("/device", messageHandler.RegisterDevice)
			chatGroup.GET("/:deviceId/messages", messageHandler.ListMessages)
			chatGroup.POST("/:deviceId/messages", messageHandler.SendMessage)
			chatGroup.DELETE("/:deviceId/messages", messageHandler.ClearMessages)
		}
		apiV1.GET("/quick-messages", messageHandler.QuickMessages)
		apiV1.POST("/teach", handler.NewTeachHandler(adminService).Teach)

		// 登录无需认证
		apiV1.POST("/admin/login", authHandler.Login)

		admin := apiV1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(authService), middleware.AdminAuthMiddleware())
		{
			admin.POST("/logout", authHandler.Logout)

			responses := admin.Group("/responses")
			{
				responses.GET("", adminHandler.ListResponses)
				responses.PUT("", adminHandler.SetResponse)
				responses.DELETE("", adminHandler.DeleteResponse)
				responses.GET("/export", adminHandler.ExportResponses)
				responses.POST("/import", adminHandler.ImportResponses)
				responses.POST("/backup", adminHandler.BackupResponses)
				responses.GET("/backups", adminHandler.ListBackups)
			}

			unknown := admin.Group("/unknown-questions")
			{
				unknown.GET("", adminHandler.ListUnknownQuestions)
				unknown.DELETE("", adminHandler.DeleteUnknownQuestion)
				unknown.GET("/export", adminHandler.ExportUnknownQuestions)
			}

			admin.PUT("/quick-messages", adminHandler.SetQuickMessages)
			admin.DELETE("/chat/:deviceId/messages", messageHandler.ClearMessages)
		}
	}
	r.GET("/chat/:deviceId", handler.NewChatHandler(chatService, m).Handle)

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
	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

// initSeedFiles 将目录下的 *.json 应答表文件按管理端导入流程提交，文件内容不变时只导入一次。
func initSeedFiles(ctx context.Context, dir string, rdb *redis.Client, adminService service.AdminService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("initSeedFiles: 读取文件失败: %s, err=%v", path, err)
			return nil
		}
		fileMD5 := fmt.Sprintf("%x", md5.Sum(data))

		done, err := rdb.SIsMember(ctx, seededFilesKey, fileMD5).Result()
		if err != nil {
			log.Warnf("initSeedFiles: 查询导入记录失败: %s, err=%v", path, err)
			return nil
		}
		if done {
			log.Infof("initSeedFiles: 已导入，跳过: %s (md5=%s)", info.Name(), fileMD5)
			return nil
		}

		task, err := adminService.ImportResponses(ctx, info.Name(), data, "initfile")
		if err != nil {
			log.Warnf("initSeedFiles: 提交导入失败: %s, err=%v", path, err)
			return nil
		}
		_ = rdb.SAdd(ctx, seededFilesKey, fileMD5).Err()
		log.Infof("initSeedFiles: 已提交导入: %s, ImportID=%s", info.Name(), task.ImportID)
		return nil
	})
	if walkErr != nil {
		log.Warnf("initSeedFiles: 遍历目录失败: %v", walkErr)
	}
}
