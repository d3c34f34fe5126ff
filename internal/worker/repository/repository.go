package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/pkg/database"
	"treasury-worker/pkg/evm_client"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var once sync.Once
var r *repositoryImpl

func New(cfg config.Config, logger *zap.Logger) Repository {
	once.Do(func() {
		r = &repositoryImpl{
			cfg:    cfg,
			logger: logger,
		}
		r.init()
	})
	return r
}

type repositoryImpl struct {
	cfg         config.Config
	logger      *zap.Logger
	db          *gorm.DB
	mainRdb     *redis.Client
	metricsRdb  *redis.Client
	mq          *kafka.Writer
	chainClient *ethclient.Client
}

func (r *repositoryImpl) init() {
	var err error
	r.db, err = database.InitPG(r.cfg.Postgres.DSN)

	if err != nil {
		panic(err)
	}

	// 初始化 Main RDB
	r.mainRdb = redis.NewClient(&redis.Options{
		Addr:     r.cfg.Redis.Address,
		Password: r.cfg.Redis.Password,
		DB:       r.cfg.Redis.DB,
		PoolSize: 20,
	})

	if err := r.mainRdb.Ping(context.Background()).Err(); err != nil {
		r.logger.Warn("failed to connect to redis, continue", zap.Error(err))
	}

	// 初始化 Metrics RDB
	r.metricsRdb = redis.NewClient(&redis.Options{
		Addr:     r.cfg.Redis.Address,
		Password: r.cfg.Redis.Password,
		DB:       r.cfg.Redis.DBMetrics,
	})

	if err := r.metricsRdb.Ping(context.Background()).Err(); err != nil {
		r.logger.Warn("failed to connect to metrics redis, continue", zap.Error(err))
	}

	// 事件审计用的 Kafka writer，best-effort 投递
	if strings.TrimSpace(r.cfg.Kafka.Brokers) != "" {
		brokers := strings.Split(r.cfg.Kafka.Brokers, ",")
		r.mq = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    1000,
			BatchBytes:   1024 * 1024, // 1MB
			Async:        true,
			RequiredAcks: kafka.RequireNone,
			Compression:  kafka.Snappy,
			MaxAttempts:  5,
			WriteTimeout: 500 * time.Millisecond,
		}
	} else {
		r.logger.Info("kafka brokers empty, skip kafka initialization")
	}

	// 初始化rpc client
	r.chainClient = evm_client.Init(r.cfg.Chain.RPCURL)
}

func (r *repositoryImpl) GetMainRDB() *redis.Client {
	return r.mainRdb
}

func (r *repositoryImpl) GetMetricsRDB() *redis.Client {
	return r.metricsRdb
}

func (r *repositoryImpl) GetDB() *gorm.DB {
	return r.db
}

func (r *repositoryImpl) GetMQ() MQClient {
	return r.mq
}

func (r *repositoryImpl) GetChainClient() *ethclient.Client {
	return r.chainClient
}

func (r *repositoryImpl) Close() error {
	if r.db != nil {
		sqlDB, _ := r.db.DB()
		sqlDB.Close()
	}
	if r.mainRdb != nil {
		r.mainRdb.Close()
	}
	if r.metricsRdb != nil {
		r.metricsRdb.Close()
	}
	if r.mq != nil {
		r.mq.Close()
	}
	return nil
}
