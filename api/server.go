package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"barterswap/adapters/auth"
	"barterswap/adapters/database"
	natsAdapter "barterswap/adapters/nats"
	redisAdapter "barterswap/adapters/redis"
	"barterswap/adapters/sse"
	"barterswap/auction"
	"barterswap/ledger"
	"barterswap/models"
)

// Infrastructure 是伺服器使用的外部連線，Redis 和 NATS 可以為 nil
//
// Locker 不為 nil 時取代由 Redis 建立的分散式鎖
type Infrastructure struct {
	DB     *gorm.DB
	Redis  *redis.Client
	NATS   *nats.Conn
	Locker auction.ILocker
}

type ServerImpl struct {
	engine      *auction.Engine
	sweeper     *auction.Sweeper
	ledger      *ledger.Service
	hub         sse.IHub
	producer    redisAdapter.IEventProducer
	consumer    redisAdapter.IEventConsumer
	resolver    *auth.Resolver
	htmlChecker *bluemonday.Policy
	textChecker *bluemonday.Policy
	logger      *slog.Logger

	// closers 只包含由 NewServer 建立的連線
	closers []func() error

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"
	infra := Infrastructure{}
	closers := []func() error{}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}
	infra.DB = db

	// 初始化Redis連線
	if config.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("[%s] Fail to connect to redis, err=%w", op, err)
		}
		infra.Redis = redisClient
		closers = append(closers, redisClient.Close)
	}

	// 初始化NATS連線
	if config.NATS.Enabled {
		conn, err := natsAdapter.Connect(config.NATS.URL, config.NATS.Name, slog.Default())
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("[%s] Fail to connect to nats, err=%w", op, err)
		}
		infra.NATS = conn
		closers = append(closers, conn.Drain)
	}

	server, err := NewServerWithInfrastructure(config, infra)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("[%s] Fail to create server, err=%w", op, err)
	}
	server.closers = closers
	return server, nil
}

// NewServerWithInfrastructure 使用已建立的連線組裝伺服器
func NewServerWithInfrastructure(config ServerConfig, infra Infrastructure) (*ServerImpl, error) {
	const op = "NewServerWithInfrastructure"
	if infra.DB == nil {
		return nil, fmt.Errorf("[%s] Database cannot be nil", op)
	}
	logger := slog.Default()
	store := database.NewStore(infra.DB)
	retry := auction.RetryPolicy{
		Attempts: config.Auction.RetryAttempts,
		Backoff:  config.Auction.RetryBackoff,
	}

	// 初始化身分驗證
	resolver, err := auth.NewResolver(config.Auth.PrivateKey, config.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create token resolver, err=%w", op, err)
	}

	// 初始化事件發布
	//  - 有Redis時透過stream廣播給所有實例，由各實例的consumer送進SSE hub
	//  - 沒有Redis時直接送進本機的SSE hub
	engineOpts := []auction.EngineOption{
		auction.WithEngineLogger(logger),
		auction.WithEngineRetryPolicy(retry),
	}
	sweeperOpts := []auction.SweeperOption{
		auction.WithSweeperLogger(logger),
		auction.WithSweeperRetryPolicy(retry),
		auction.WithSweeperInterval(config.Auction.SweepInterval),
	}
	var (
		hub      *sse.Hub
		producer *redisAdapter.EventProducer
		consumer *redisAdapter.EventConsumer
	)
	if infra.Redis != nil {
		producer, err = redisAdapter.NewEventProducer(
			infra.Redis,
			config.Redis.StreamKeys.Events,
			redisAdapter.WithProducerLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
		}
		consumer, err = redisAdapter.NewEventConsumer(
			infra.Redis,
			config.Redis.StreamKeys.Events,
			redisAdapter.WithConsumerLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
		}
		hub = sse.NewHub(sse.WithLogger(logger), sse.WithSubscriber(consumer))
		engineOpts = append(engineOpts, auction.WithEnginePublisher(producer))
		sweeperOpts = append(sweeperOpts, auction.WithSweeperPublisher(producer))

		// 初始化分散式鎖
		if config.Auction.LockEnabled && infra.Locker == nil {
			lockerOpts := []redisAdapter.LockerOption{redisAdapter.WithLockerLogger(logger)}
			if config.Redis.KeyPrefix != "" {
				lockerOpts = append(lockerOpts, redisAdapter.WithLockerPrefix(config.Redis.KeyPrefix))
			}
			if config.Auction.LockExpiry > 0 {
				lockerOpts = append(lockerOpts, redisAdapter.WithLockerExpiry(config.Auction.LockExpiry))
			}
			locker, err := redisAdapter.NewLocker(infra.Redis, lockerOpts...)
			if err != nil {
				return nil, fmt.Errorf("[%s] Fail to create locker, err=%w", op, err)
			}
			engineOpts = append(engineOpts, auction.WithEngineLocker(locker))
			sweeperOpts = append(sweeperOpts, auction.WithSweeperLocker(locker))
		}
	} else {
		hub = sse.NewHub(sse.WithLogger(logger))
		engineOpts = append(engineOpts, auction.WithEnginePublisher(hub))
		sweeperOpts = append(sweeperOpts, auction.WithSweeperPublisher(hub))
	}
	if infra.Locker != nil {
		engineOpts = append(engineOpts, auction.WithEngineLocker(infra.Locker))
		sweeperOpts = append(sweeperOpts, auction.WithSweeperLocker(infra.Locker))
	}
	if infra.NATS != nil {
		var conn natsAdapter.IConn = infra.NATS
		if config.NATS.JetStream {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			conn, err = natsAdapter.NewJetStreamConn(ctx, infra.NATS, config.NATS.Stream, config.NATS.SubjectPrefix, config.NATS.MaxAge)
			if err != nil {
				return nil, fmt.Errorf("[%s] Fail to create jetstream, err=%w", op, err)
			}
		}
		publisher, err := natsAdapter.NewPublisher(
			conn,
			natsAdapter.WithPublisherLogger(logger),
			natsAdapter.WithPublisherSubjectPrefix(config.NATS.SubjectPrefix),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create nats publisher, err=%w", op, err)
		}
		engineOpts = append(engineOpts, auction.WithEnginePublisher(publisher))
		sweeperOpts = append(sweeperOpts, auction.WithSweeperPublisher(publisher))
	}

	// 初始化出價引擎與過期掃描器
	engine, err := auction.NewEngine(store, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create engine, err=%w", op, err)
	}
	sweeper, err := auction.NewSweeper(store, sweeperOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create sweeper, err=%w", op, err)
	}

	server := &ServerImpl{
		engine:      engine,
		sweeper:     sweeper,
		ledger:      ledger.NewService(store, config.Currency, ledger.WithLogger(logger), ledger.WithRetryPolicy(retry)),
		hub:         hub,
		resolver:    resolver,
		htmlChecker: bluemonday.UGCPolicy(),
		textChecker: bluemonday.StrictPolicy(),
		logger:      logger.With(slog.String("caller", "Server")),
		config:      config,
	}
	// 避免把 nil 指標存成非 nil 的介面
	if producer != nil {
		server.producer = producer
	}
	if consumer != nil {
		server.consumer = consumer
	}
	return server, nil
}

func (impl *ServerImpl) Start() {
	// 啟動producer
	if impl.producer != nil {
		impl.producer.Start()
	}
	// 啟動consumer，必須在hub之前啟動
	if impl.consumer != nil {
		impl.consumer.Start()
	}
	// 啟動sse hub
	impl.hub.Start()
	// 啟動過期掃描器
	impl.sweeper.Start()
	impl.logger.Info("Server started")
}

func (impl *ServerImpl) Close() {
	// 關閉過期掃描器
	impl.sweeper.Close()
	// 關閉producer，等待緩衝中的事件寫入
	if impl.producer != nil {
		impl.producer.Close()
	}
	// 關閉consumer
	if impl.consumer != nil {
		impl.consumer.Close()
	}
	// 關閉sse hub
	impl.hub.Close()
	// 關閉連線
	var errs []error
	for i := len(impl.closers) - 1; i >= 0; i-- {
		errs = append(errs, impl.closers[i]())
	}
	impl.closers = nil
	if err := errors.Join(errs...); err != nil {
		impl.logger.Error("Fail to close connections", slog.Any("error", err))
	}
	impl.logger.Info("Server stopped")
}

// RegisterHandlers 註冊所有路由
func (impl *ServerImpl) RegisterHandlers(router gin.IRouter) {
	authorized := auth.GinMiddleware(impl.resolver, auth.WithMiddlewareLogger(impl.logger))

	items := router.Group("/items")
	items.POST("", authorized, impl.PostItem)
	items.GET("/:itemID", impl.GetItem)
	items.PATCH("/:itemID", authorized, impl.PatchItem)
	items.DELETE("/:itemID", authorized, impl.DeleteItem)
	items.POST("/:itemID/bids", authorized, impl.PostBid)
	items.GET("/:itemID/bids", impl.GetBids)
	items.GET("/:itemID/bids/highest", impl.GetHighestBid)
	items.GET("/:itemID/events", impl.GetItemEvents)

	router.GET("/me/items", authorized, impl.GetMyItems)

	wallet := router.Group("/wallet", authorized)
	wallet.POST("", impl.PostWallet)
	wallet.GET("", impl.GetWallet)
	wallet.GET("/transactions", impl.GetWalletTransactions)
}
