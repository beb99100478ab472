package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/mockapi"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func main() {
	addr := flag.String("addr", ":8000", "Address to listen on")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := observability.NewLogger(observability.ParseLevel(*logLevel), os.Stdout)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware,
	)(mockapi.New(mockapi.WithLogger(logger.Entry())))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithField("addr", *addr).Info("Starting mock admin API")
	if err := srv.ListenAndServe(); err != nil {
		logger.WithError(err).Error("Mock admin API stopped")
		os.Exit(1)
	}
}
