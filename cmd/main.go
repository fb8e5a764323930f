package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"review-sync-backend/internal/config"
	"review-sync-backend/internal/handler"
	"review-sync-backend/internal/service"
	"review-sync-backend/internal/sfclient"
	"review-sync-backend/internal/storage"
	"review-sync-backend/internal/utils"
	"review-sync-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "review-sync",
	Short: "Review form sync backend for SuccessFactors OData",
	Long: `review-sync loads PM and 360 review forms from SuccessFactors through
AppRouter, keeps per-form edit state in memory and writes changed ratings
and comments back with a single OData upsert.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(normalizeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	httpClient, err := utils.NewHTTPClient(cfg.SF.RequestTimeout)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}
	client, err := sfclient.NewClient(cfg.SF, httpClient, sfclient.NewSession())
	if err != nil {
		return fmt.Errorf("failed to create sf client: %w", err)
	}

	// 初始化服务
	formService := service.NewFormService(sfclient.NewAPI(client, cfg.SF), storage.NewMemoryStorage(), &cfg.Workspace)
	defer formService.Close()

	// 预取 token，失败时首次写操作会再次获取
	prefetchCtx, cancel := context.WithTimeout(context.Background(), cfg.SF.TokenWaitTimeout)
	if err := client.Prefetch(prefetchCtx); err != nil {
		logger.Warnf("CSRF token prefetch failed: %v", err)
	}
	cancel()

	router := setupRouter(cfg, handler.NewFormHandler(formService))

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
	return nil
}

func setupRouter(cfg *config.Config, formHandler *handler.FormHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	formHandler.Register(router.Group("/api"))

	return router
}
