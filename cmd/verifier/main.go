// Command verifier runs a small demo verifier: it issues DC API mdoc
// requests, decrypts wallet responses, and accepts OID4VP direct_post
// submissions. It exists to exercise the SDK end to end against real
// wallets.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spruceid/mobile-sdk-go/mdoc"
	"github.com/spruceid/mobile-sdk-go/pkg/pki"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	rootsPath := flag.String("roots", "", "PEM file with trusted IACA root certificates")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()
	mdoc.SetLogger(logger)

	srv := newServer(logger)
	if *rootsPath != "" {
		roots, err := pki.GetRootCertificate(*rootsPath)
		if err != nil {
			logger.Fatal("failed to load trust roots", zap.Error(err))
		}
		srv.verifier = mdoc.NewVerifier(roots)
	}

	r := mux.NewRouter()
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{"POST", "GET"}),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowCredentials(),
	))

	r.HandleFunc("/dcapi/request", srv.StartDCAPIRequest).Methods("POST", "OPTIONS")
	r.HandleFunc("/dcapi/response", srv.FinishDCAPIRequest).Methods("POST", "OPTIONS")
	r.HandleFunc("/openid4vp/direct_post", srv.DirectPost).Methods("POST", "OPTIONS")

	logger.Info("verifier listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, handlers.LoggingHandler(loggerWriter{logger}, r)); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// loggerWriter adapts zap to the access-log writer gorilla/handlers wants.
type loggerWriter struct {
	logger *zap.Logger
}

func (w loggerWriter) Write(p []byte) (int, error) {
	w.logger.Info(string(p))
	return len(p), nil
}
