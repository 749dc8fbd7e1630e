package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"taskhub/server/collab/api"
	"taskhub/server/collab/repository/postgres"
	"taskhub/server/collab/service"
	"taskhub/server/common/infra/cache"
	"taskhub/server/common/infra/db"
	"taskhub/server/common/infra/mq"
	"taskhub/server/common/infra/object"
)

type Server struct {
	HTTPServer *http.Server
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Hub        *service.Hub
	Sweeper    *service.Sweeper

	amqpEmail *service.AMQPEmailSender
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	notificationStore := postgres.NewNotificationStore(pool)
	preferenceStore := postgres.NewPreferenceStore(pool)
	taskStore := postgres.NewTaskStore(pool)
	userStore := postgres.NewUserStore(pool)

	hub := service.NewHub()
	var redisClient *redis.Client
	if cfg.UseRedis {
		redisClient = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, redisClient); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		hub.UseRedis(redisClient)
		if err := hub.StartBridge(context.Background()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("start hub bridge: %w", err)
		}
	}

	var (
		mqConn      *amqp.Connection
		amqpEmail   *service.AMQPEmailSender
		emailSender service.EmailSender = service.LogEmailSender{}
	)
	if cfg.UseMQ {
		mqConn, err = mq.NewConnection(cfg.AMQPURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		amqpEmail, err = service.NewAMQPEmailSender(mqConn)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("initialize email publisher: %w", err)
		}
		emailSender = amqpEmail
	}

	var objectClient *minio.Client
	if cfg.UseMinio {
		objectClient, err = object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("initialize object storage: %w", err)
		}
		if err := object.EnsureBucket(ctx, objectClient, cfg.MinioBucket); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure export bucket: %w", err)
		}
	}

	wsSvc := service.NewRealtimeService(hub, userStore)
	notifySvc := service.NewNotifyService(notificationStore, preferenceStore, userStore, emailSender, service.StubPushSender{}, hub)
	exporter := service.NewExporter(notificationStore, objectClient, cfg.MinioBucket)

	sweepCfg := service.DefaultSweepConfig()
	sweepCfg.ReminderInterval = cfg.ReminderInterval
	sweepCfg.ReminderWindow = cfg.ReminderWindow
	sweepCfg.ExpiryInterval = cfg.ExpiryInterval
	sweepCfg.Retention = cfg.Retention
	sweepCfg.DigestInterval = cfg.DigestInterval
	sweeper := service.NewSweeper(notifySvc, notificationStore, preferenceStore, taskStore, userStore, emailSender, sweepCfg)
	sweeper.Start(context.Background())

	h := api.NewHandler(notifySvc, wsSvc, exporter, userStore, cfg.JWTSecret, cfg.JWTTTLMinutes)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer: httpServer,
		Pool:       pool,
		Redis:      redisClient,
		MQConn:     mqConn,
		Hub:        hub,
		Sweeper:    sweeper,
		amqpEmail:  amqpEmail,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.Sweeper != nil {
		s.Sweeper.Stop()
	}
	if s.Hub != nil {
		s.Hub.StopBridge()
	}
	if s.amqpEmail != nil {
		s.amqpEmail.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	err := s.HTTPServer.Shutdown(ctx)
	if s.Pool != nil {
		s.Pool.Close()
	}
	return err
}
