package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"chatcore/config"
	"chatcore/logging"
	"chatcore/metrics"
	"chatcore/relay"
	"chatcore/server"
)

const shutdownTimeout = 5 * time.Second

var (
	configPath = flag.String("config", "chatcore.yaml", "The YAML config file")
	mode       = flag.String("mode", "client", "What to run: relay or client")
	tls        = flag.Bool("tls", false, "Connection uses TLS if true, else plain TCP")
	certFile   = flag.String("cert_file", "", "The TLS cert file (the CA file in client mode)")
	keyFile    = flag.String("key_file", "", "The TLS key file")
	port       = flag.Int("port", 50051, "The relay port")
	dbUrl      = flag.String("db_url", "", "The DB url connection string, empty for no durable store")
	relayAddr  = flag.String("relay", "", "The relay address, empty for no broadcast")
	user       = flag.String("user", "", "Who you are in client mode")
	room       = flag.String("room", "", "The room to join first")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	applyFlags(cfg)
	logging.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "relay":
		err = runRelay(ctx, cfg)
	case "client":
		err = runClient(ctx, cfg)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Error().Err(err).Str("mode", *mode).Msg("exiting")
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags win over the file and environment.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tls":
			cfg.Relay.TLS.Enabled = *tls
		case "cert_file":
			cfg.Relay.TLS.CertFile = *certFile
		case "key_file":
			cfg.Relay.TLS.KeyFile = *keyFile
		case "port":
			cfg.Relay.ListenAddress = fmt.Sprintf("localhost:%d", *port)
		case "db_url":
			cfg.Store.DatabaseURL = *dbUrl
		case "relay":
			cfg.Relay.Address = *relayAddr
		case "user":
			cfg.Session.User = *user
		case "room":
			cfg.Session.Room = *room
		}
	})
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	roomManager := server.CreateRoomManager(ctx, cfg.Relay.SubscriberBuffer)
	chatStreamService := server.NewChatStreamService(roomManager)
	clientInterceptor := server.NewClientInterceptor(cfg.Relay.RateLimit.RPS, cfg.Relay.RateLimit.Burst)

	lis, err := net.Listen("tcp", cfg.Relay.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	var opts []grpc.ServerOption
	if cfg.Relay.TLS.Enabled {
		creds, err := credentials.NewServerTLSFromFile(cfg.Relay.TLS.CertFile, cfg.Relay.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to generate credentials: %w", err)
		}
		opts = []grpc.ServerOption{grpc.Creds(creds)}
	}
	opts = append(opts, grpc.UnaryInterceptor(clientInterceptor.Unary()))
	opts = append(opts, grpc.StreamInterceptor(clientInterceptor.Stream()))

	grpcServer := grpc.NewServer(opts...)
	relay.RegisterRelayServer(grpcServer, chatStreamService)

	var httpServer *http.Server
	if cfg.Metrics.Address != "" {
		httpServer = startHttp(cfg.Metrics.Address, server.NewRouter(chatStreamService, clientInterceptor))
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Relay.ListenAddress).Msg("relay listening")
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Info().Msg("shutting down relay")
		grpcServer.GracefulStop()
	}
	stopHttp(httpServer)
	return err
}

func startHttp(address string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Handler:      handler,
		Addr:         address,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	go func() {
		log.Info().Str("address", address).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()
	return srv
}

func stopHttp(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	}
}

// metricsRouter is the client's http side: just health and metrics.
func metricsRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", server.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

func splitCommand(line string) (string, string) {
	command, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	return strings.ToLower(command), strings.TrimSpace(arg)
}
