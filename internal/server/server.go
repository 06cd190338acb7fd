// Package server is the HTTP surface the connection multiplexer sits
// behind: the /ws upgrade endpoint plus /healthz and /version, wired with
// httprouter exactly as the reference server wires its own page routes.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/blackjacktable/server/internal/config"
	"github.com/blackjacktable/server/internal/transport"
)

const (
	readTimeout     = 10 * time.Second
	idleTimeout     = 10 * time.Minute
	shutdownTimeout = 5 * time.Second
)

// securityHeaders applies the same header set the reference webapp sends on
// every plain HTTP response, adding HSTS once TLS is actually in play.
func securityHeaders(cfg *config.Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.Scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

// realIP prefers a reverse-proxy-supplied client address over the raw
// socket peer, the same precedence the reference server uses.
func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" && net.ParseIP(ip) != nil {
		host = ip
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" && net.ParseIP(ip) != nil {
		host = ip
	}
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	return host
}

func serveHealthz(cfg *config.Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ok"))
	}
}

func serveVersion(cfg *config.Config, version string, logger *zap.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("blackjacktable v" + version + "\n")); err != nil {
			logger.Debug("version response write failed", zap.String("remote", realIP(r)), zap.Error(err))
		}
	}
}

// Serve starts the HTTP listener and blocks until ctx is cancelled, then
// drains in-flight connections and every live websocket session before
// returning. mux's /ws route delegates straight to the multiplexer; room
// selection happens post-connect over the socket, not via path, so there is
// exactly one upgrade route regardless of how many rooms exist.
func Serve(ctx context.Context, cfg *config.Config, version string, mp *transport.Multiplexer, logger *zap.Logger) error {
	router := httprouter.New()
	router.GET("/healthz", serveHealthz(cfg))
	router.GET("/version", serveVersion(cfg, version, logger))
	router.GET("/ws", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		mp.ServeWS(w, r)
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr(), strconv.Itoa(cfg.Port)),
		Handler:           router,
		IdleTimeout:       idleTimeout,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      readTimeout,
	}

	serveErrs := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("scheme", cfg.Scheme()),
			zap.String("addr", srv.Addr))

		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	select {
	case err := <-serveErrs:
		return err
	case <-ctx.Done():
	}

	mp.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
