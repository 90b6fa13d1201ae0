// Package main provides the antigravity-proxy server: a local HTTP endpoint
// that runs inbound generative-language requests through the dispatch engine,
// standing in for host-CLI integration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/antigravity"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/buildinfo"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/logging"
	"github.com/ink-splatters/opencode-antigravity-auth/internal/util"
	"github.com/ink-splatters/opencode-antigravity-auth/sdk/antigravitypool"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("configure logging: %v", err)
	}
	log.Infof("antigravity-proxy %s (%s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	ctx := context.Background()
	store, closeStore, err := antigravitypool.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	pool, err := antigravitypool.LoadFromDisk(ctx, store, "")
	if err != nil {
		log.Fatalf("load account pool: %v", err)
	}
	log.Infof("loaded %d account(s)", pool.Count())

	// A sibling antigravity-auth invocation may edit the pool document while
	// the proxy runs; pick those edits up without restarting.
	if fileStore, ok := store.(*antigravitypool.FileStore); ok {
		err = fileStore.WatchExternalChanges(func() {
			if errReload := pool.ReloadFromDisk(context.Background()); errReload != nil {
				log.Warnf("reload pool after external change: %v", errReload)
			} else {
				log.Infof("pool document changed externally, reloaded %d account(s)", pool.Count())
			}
		})
		if err != nil {
			log.Warnf("watch pool document: %v", err)
		}
	}

	httpClient := util.NewProxyHTTPClient(cfg.ProxyURL)
	dispatcher := antigravitypool.NewDispatcher(pool, antigravity.NewClient(httpClient), cfg.Endpoints)
	dispatcher.HTTPClient = httpClient

	debugSink, err := logging.NewDebugSink(cfg.Debug)
	if err != nil {
		log.Warnf("debug sink unavailable: %v", err)
	}
	if debugSink != nil {
		defer func() { _ = debugSink.Close() }()
		dispatcher.OnExchange = debugSink.LogExchange
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	router.GET("/v1/models", func(c *gin.Context) {
		models, errList := dispatcher.ListModels(c.Request.Context())
		if errList != nil {
			writeDispatchError(c, errList)
			return
		}
		c.JSON(http.StatusOK, gin.H{"models": models})
	})

	router.NoRoute(func(c *gin.Context) {
		if !antigravity.IsGenerativeLanguageRequest(c.Request.URL) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not a generative-language path"})
			return
		}
		resp, errDo := dispatcher.Do(c.Request.Context(), c.Request)
		if errDo != nil {
			writeDispatchError(c, errDo)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		for key, values := range resp.Header {
			for _, value := range values {
				c.Writer.Header().Add(key, value)
			}
		}
		c.Status(resp.StatusCode)
		if _, errCopy := io.Copy(c.Writer, resp.Body); errCopy != nil {
			log.Warnf("copy response body: %v", errCopy)
		}
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	go func() {
		log.Infof("listening on %s", srv.Addr)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Fatalf("serve: %v", errServe)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// writeDispatchError maps pool/dispatch errors onto HTTP responses carrying
// the user-facing remediation message.
func writeDispatchError(c *gin.Context, err error) {
	var poolErr *antigravitypool.Error
	if errors.As(err, &poolErr) {
		status := poolErr.StatusCode()
		if status == 0 {
			switch poolErr.Code {
			case antigravitypool.ErrCodeNoAccounts, antigravitypool.ErrCodeReauthenticate:
				status = http.StatusUnauthorized
			case antigravitypool.ErrCodeAllAccountsCooled:
				status = http.StatusTooManyRequests
			default:
				status = http.StatusBadGateway
			}
		}
		c.JSON(status, gin.H{"error": gin.H{"code": poolErr.Code, "message": poolErr.Message}})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"message": err.Error()}})
}
