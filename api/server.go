package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/config"
	"github.com/gnostr-org/signerd/internal/bunker"
	"github.com/gnostr-org/signerd/internal/history"
	"github.com/gnostr-org/signerd/internal/wallet"
	"github.com/gnostr-org/signerd/storage"
)

type Server struct {
	port          int64
	redis         *storage.RedisStorage
	client        *asynq.Client
	inspector     *asynq.Inspector
	sdClient      *statsd.Client
	blockStorage  *storage.BlockStorage
	db            storage.DatabaseStorage
	walletService *wallet.Service
	historyStore  *history.Store
	bunkerService *bunker.Service
	approver      *bunker.ChannelApprover
	logger        *logrus.Logger
}

// NewServer returns a new control-plane server.
func NewServer(cfg config.Config,
	redis *storage.RedisStorage,
	client *asynq.Client,
	inspector *asynq.Inspector,
	sdClient *statsd.Client,
	blockStorage *storage.BlockStorage,
	db storage.DatabaseStorage,
	bunkerService *bunker.Service,
	approver *bunker.ChannelApprover) *Server {
	logger := logrus.WithField("service", "api").Logger

	return &Server{
		port:          cfg.Server.Port,
		redis:         redis,
		client:        client,
		inspector:     inspector,
		sdClient:      sdClient,
		blockStorage:  blockStorage,
		db:            db,
		walletService: wallet.NewService(db, blockStorage),
		historyStore:  history.NewStore(db),
		bunkerService: bunkerService,
		approver:      approver,
		logger:        logger,
	}
}

func (s *Server) StartServer() error {
	e := echo.New()
	e.Logger.SetLevel(log.DEBUG)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M")) // set maximum allowed size for a request body to 2M
	e.Use(s.statsdMiddleware)
	e.Use(middleware.CORS())
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{Rate: 5, Burst: 30, ExpiresIn: 5 * time.Minute},
	)
	e.Use(middleware.RateLimiter(limiterStore))
	e.GET("/ping", s.Ping)

	grp := e.Group("/wallet")
	grp.POST("/create", s.CreateWallet)
	grp.GET("/list", s.ListWallets)
	grp.GET("/get/:walletId", s.GetWallet)
	grp.DELETE("/delete/:walletId", s.DeleteWallet)
	grp.POST("/rename", s.RenameWallet)
	grp.POST("/cosigner/add", s.AddCosigner)
	grp.DELETE("/cosigner/:walletId/:pubkey", s.RemoveCosigner)
	grp.POST("/backup/:walletId", s.BackupWallet)
	grp.POST("/restore/:walletId", s.RestoreWallet)

	e.POST("/sign", s.SignThreshold)
	e.GET("/sign/response/:taskId", s.GetSignResult) // Get threshold signing result

	bnk := e.Group("/bunker")
	bnk.POST("/start", s.StartBunker)
	bnk.POST("/stop", s.StopBunker)
	bnk.GET("/status", s.BunkerStatus)
	bnk.GET("/uri", s.GetBunkerURI)
	bnk.GET("/connections", s.ListBunkerConnections)
	bnk.DELETE("/connections/:pubkey", s.DisconnectBunkerClient)
	bnk.GET("/pending", s.ListPendingSignRequests)
	bnk.POST("/approve/:requestId", s.ApprovePendingRequest)
	bnk.POST("/connect", s.HandleConnectURI)

	e.GET("/sessions/:sessionId", s.GetSessionStatus)
	e.GET("/history/:identity", s.GetHistory)

	return e.Start(fmt.Sprintf(":%d", s.port))
}

func (s *Server) statsdMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		duration := time.Since(start).Milliseconds()

		// Send metrics to statsd
		_ = s.sdClient.Incr("http.requests", []string{"path:" + c.Path()}, 1)
		_ = s.sdClient.Timing("http.response_time", time.Duration(duration)*time.Millisecond, []string{"path:" + c.Path()}, 1)
		_ = s.sdClient.Incr("http.status."+fmt.Sprint(c.Response().Status), []string{"path:" + c.Path(), "method:" + c.Request().Method}, 1)

		return err
	}
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "Signerd is running")
}
