package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/chatengine/pkg/config"
	"github.com/choraleia/chatengine/pkg/event"
	"github.com/choraleia/chatengine/pkg/handler"
	"github.com/choraleia/chatengine/pkg/service"
	"github.com/choraleia/chatengine/pkg/store"
	"github.com/choraleia/chatengine/pkg/tokenizer"
	"github.com/choraleia/chatengine/pkg/utils"
)

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	repo      *store.GormRepository
	emitter   *event.Emitter
	logger    *slog.Logger
	closers   []func() error
	port      int
	done      chan struct{}
}

func NewServer(ctx context.Context, cfg *config.AppConfig, repo *store.GormRepository) (*Server, error) {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := utils.GetLogger()
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery(), handler.RequestLogger(logger))

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		repo:      repo,
		emitter:   event.NewEmitter(),
		logger:    logger,
		done:      make(chan struct{}),
	}

	if err := server.SetupRoutes(ctx); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine, ReadHeaderTimeout: 10 * time.Second}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}
	s.logger.Info("server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.TurnTimeout()+5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", "error", err)
		}
		for _, closeFn := range s.closers {
			if err := closeFn(); err != nil {
				s.logger.Warn("close resource", "error", err)
			}
		}
	}()

	// Non-blocking: if startup fails immediately return error; otherwise return nil to let main continue
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

// Done is closed once the server has shut down after its context ended.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) SetupRoutes(ctx context.Context) error {
	counter, err := tokenizer.New(tokenizer.DefaultEncoding)
	if err != nil {
		return err
	}

	// Model client
	modelService := service.NewModelService()
	modelCfg := s.cfg.Model
	modelCfg.Provider = s.cfg.ModelProvider()
	modelCfg.Model = s.cfg.ModelName()
	chatModel, err := modelService.CreateChatModel(ctx, &modelCfg)
	if err != nil {
		return err
	}

	// Moderation
	var moderator service.Moderator = service.NoopModerator{}
	if s.cfg.ModerationEnabled() {
		moderator = service.NewOpenAIModerator(s.cfg.ModerationAPIKey(), s.cfg.Moderation.BaseURL, s.cfg.ModerationModel())
	} else {
		s.logger.Warn("moderation disabled", "provider", s.cfg.ModelProvider())
	}

	// Turn lock
	var lock service.TurnLock = service.NewStoreTurnLock(s.repo, 2*s.cfg.TurnTimeout())
	if s.cfg.LockBackend() == "redis" {
		client := service.NewRedisClient(s.cfg.Lock.RedisAddr, s.cfg.Lock.RedisPassword, s.cfg.Lock.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connect redis %s: %w", s.cfg.Lock.RedisAddr, err)
		}
		s.closers = append(s.closers, client.Close)
		lock = service.NewRedisTurnLock(client, s.repo, 2*s.cfg.TurnTimeout())
	}

	turnService := service.NewTurnService(service.TurnServiceOptions{
		Repo:          s.repo,
		Lock:          lock,
		Model:         service.NewChatModelClient(chatModel),
		Gate:          service.NewModerationGate(moderator),
		Counter:       counter,
		Emitter:       s.emitter,
		HistoryBudget: s.cfg.HistoryBudget(),
		Timeout:       s.cfg.TurnTimeout(),
	})
	personalityService := service.NewPersonalityService(s.repo)
	conversationService := service.NewConversationService(s.repo, personalityService, turnService, s.emitter)

	// /debug
	s.ginEngine.GET("/debug/ping", handler.Ping)

	// /api
	apiGroup := s.ginEngine.Group("/api", handler.APIKeyAuth(s.cfg.Auth.EndpointAPIKey))
	handler.NewConversationHandler(conversationService).RegisterRoutes(apiGroup)
	apiGroup.GET("/events/ws", event.NewWSHandler(s.emitter).Handle)

	s.logger.Info("routes ready",
		"provider", s.cfg.ModelProvider(),
		"model", s.cfg.ModelName(),
		"moderation", s.cfg.ModerationEnabled(),
		"lock", s.cfg.LockBackend(),
		"history_budget", s.cfg.HistoryBudget(),
		"turn_timeout", s.cfg.TurnTimeout())
	return nil
}
