package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusconnect/backend/internal/api/handler"
	"campusconnect/backend/internal/app"
	"campusconnect/backend/internal/chathub"
	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/game"
	"campusconnect/backend/internal/localization"
	"campusconnect/backend/internal/logging"
	"campusconnect/backend/internal/matchmaker"
	"campusconnect/backend/internal/moderation"
	"campusconnect/backend/internal/presence"
	"campusconnect/backend/internal/session"
	"campusconnect/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if !envLoaded {
		log.Warn("no .env file, using the process environment")
	}
	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Setup(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	store := deps.Storage
	docs := deps.Docs
	mod := moderation.NewService(store, log.Named("moderation"))
	sessions := session.NewRegistry(docs, store, log.Named("session"))
	matcher := matchmaker.NewMatcher(docs, store, log.Named("matchmaker"), cfg.MatchWindow)
	games := game.NewEngine(docs, log.Named("game"), cfg.DotsGridSize)

	// Chat messages fan out over Redis when instances share one.
	var relay chathub.Relay = chathub.NewLocalRelay()
	if deps.Redis != nil {
		relay = chathub.NewRedisRelay(deps.Redis, log.Named("relay"))
	}

	hub := chathub.NewManagerService(chathub.Services{
		Presence:  presence.NewTracker(docs, log.Named("presence")),
		Sessions:  sessions,
		Matcher:   matcher,
		Games:     games,
		Messages:  store,
		Moderator: mod,
		Relay:     relay,
	}, log.Named("hub"))

	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	sweeper := matchmaker.NewSweeper(docs, log.Named("sweeper"), cfg.WaitingTTL, cfg.MatchedTTL)
	if err := sweeper.Start(cfg.SweepSpec); err != nil {
		return err
	}
	defer sweeper.Stop()

	if cfg.TelegramToken != "" {
		loc, err := localization.NewLocalizer(cfg.LocalesDir)
		if err != nil {
			return err
		}
		bot, err := telegram.NewBotService(cfg.TelegramToken, hub, store, mod, loc, log)
		if err != nil {
			return err
		}
		go bot.Run(ctx)
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, telegram bot disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(log.Named("http")))
	handler.NewHandler(handler.Deps{
		Hub:        hub,
		Sessions:   sessions,
		Matcher:    matcher,
		Games:      games,
		Users:      store,
		Moderation: mod,
		Auth:       handler.NewAuthenticator(cfg.JWTSecret),
	}, log.Named("api")).Register(r)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        corsHandler,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		return err
	case err := <-hubDone:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
