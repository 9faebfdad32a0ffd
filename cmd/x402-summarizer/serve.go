package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	x402 "github.com/x402-foundation/x402-summarizer"
	xecho "github.com/x402-foundation/x402-summarizer/http/echo"
	xgin "github.com/x402-foundation/x402-summarizer/http/gin"
	"github.com/x402-foundation/x402-summarizer/mcp"
	"github.com/x402-foundation/x402-summarizer/summarizer"
	"github.com/x402-foundation/x402-summarizer/telemetry"
)

// summarizeResource is the policy POST /summarize is billed under
const summarizeResource = "summarize"

func newServeCmd(root *rootOptions) *cobra.Command {
	var framework string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the paid summarize API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if framework != "" {
				cfg.Server.Framework = framework
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, components{})
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			go a.runJanitor(ctx)

			srv := &http.Server{
				Addr:              cfg.Server.Addr(),
				Handler:           a.handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return listen(ctx, srv, a)
		},
	}
	cmd.Flags().StringVar(&framework, "framework", "", "router framework override (gin or echo)")
	return cmd
}

// listen serves until ctx is cancelled, then shuts the server down
func listen(ctx context.Context, srv *http.Server, a *app) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", srv.Addr, "framework", a.cfg.Server.Framework)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handler builds the router for the configured framework
func (a *app) handler() http.Handler {
	if a.cfg.Server.Framework == "echo" {
		return a.echoRouter()
	}
	return a.ginRouter()
}

type healthResponse struct {
	Status    string         `json:"status"`
	Networks  []x402.Network `json:"networks"`
	Resources int            `json:"resources"`
}

func (a *app) health() healthResponse {
	networks := make([]x402.Network, 0)
	for _, p := range a.gateway.Policies().Policies() {
		networks = append(networks, p.Network)
	}
	return healthResponse{Status: "ok", Networks: networks, Resources: a.gateway.Policies().Len()}
}

func (a *app) ginRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a), cors(a.cfg.Server.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.health())
	})
	r.GET("/pricing", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": mcp.Pricing(a.gateway.Policies())})
	})
	if a.cfg.Server.Metrics {
		r.GET("/metrics", gin.WrapH(telemetry.Handler(a.registry)))
	}
	r.POST("/summarize",
		summarizer.GinValidate(),
		xgin.PaymentMiddleware(a.gateway, summarizeResource, a.middlewareOptions()...),
		summarizer.GinHandler(a.summarizer),
	)
	return r
}

func (a *app) echoRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  a.cfg.Server.CORSOrigins,
		AllowHeaders:  []string{echo.HeaderContentType, x402.HeaderTxHash, x402.HeaderNetwork, x402.HeaderResource},
		ExposeHeaders: []string{x402.HeaderPaymentResponse, echo.HeaderRetryAfter},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, a.health())
	})
	e.GET("/pricing", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"resources": mcp.Pricing(a.gateway.Policies())})
	})
	if a.cfg.Server.Metrics {
		e.GET("/metrics", echo.WrapHandler(telemetry.Handler(a.registry)))
	}
	e.POST("/summarize",
		echo.WrapHandler(summarizer.Handler(a.summarizer)),
		echo.WrapMiddleware(summarizer.Validate),
		xecho.PaymentMiddleware(a.gateway, summarizeResource, a.middlewareOptions()...),
	)
	return e
}

// requestLogger logs one line per request
func requestLogger(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// cors allows browser clients to send proof headers and read the payment
// response header
func cors(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	allowHeaders := strings.Join([]string{"Content-Type", x402.HeaderTxHash, x402.HeaderNetwork, x402.HeaderResource}, ", ")
	exposeHeaders := strings.Join([]string{x402.HeaderPaymentResponse, "Retry-After"}, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			h := c.Writer.Header()
			if allowAll {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
