// Package app wires the identity service: storage, session actors, the
// device authorization flow, the secret store, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loomhost/identity/internal/bridge"
	"github.com/loomhost/identity/internal/deviceauth"
	"github.com/loomhost/identity/internal/secrets"
	"github.com/loomhost/identity/internal/session"
	sqlitestore "github.com/loomhost/identity/internal/storage/sqlite"
)

// Server hosts the identity service.
type Server struct {
	listener     net.Listener
	httpServer   *http.Server
	store        *sqlitestore.Store
	registry     *session.Registry
	sweeper      *session.Sweeper
	bridge       *bridge.Bridge
	secrets      *secrets.Store
	deviceServer *deviceauth.Server
	deviceConfig deviceauth.Config
}

// New creates a configured identity server listening on the provided address.
func New(httpAddr, dbPath string) (*Server, error) {
	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	store, err := openStore(dbPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	sweeper := session.NewSweeper(store)
	registry := session.NewRegistry(store, sweeper)

	keys, err := secrets.LoadKeysFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	secretStore := secrets.NewStore(store, keys)

	signer, err := deviceauth.LoadSignerFromEnv(nil)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	deviceConfig, err := deviceauth.LoadConfigFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	coordinator := deviceauth.NewCoordinatorFromConfig(store, signer, deviceConfig)
	deviceServer := deviceauth.NewServer(coordinator, registry, deviceConfig)

	mux := http.NewServeMux()
	deviceServer.RegisterRoutes(mux)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		listener:     listener,
		httpServer:   &http.Server{Handler: mux},
		store:        store,
		registry:     registry,
		sweeper:      sweeper,
		bridge:       bridge.New(registry),
		secrets:      secretStore,
		deviceServer: deviceServer,
		deviceConfig: deviceConfig,
	}, nil
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Sessions exposes the session registry to an embedding web layer.
func (s *Server) Sessions() *session.Registry {
	return s.registry
}

// Bridge exposes the login-callback bridge to an embedding web layer.
func (s *Server) Bridge() *bridge.Bridge {
	return s.bridge
}

// Secrets exposes the envelope secret store.
func (s *Server) Secrets() *secrets.Store {
	return s.secrets
}

// Run creates and serves an identity server until the context ends.
func Run(ctx context.Context, httpAddr, dbPath string) error {
	server, err := New(httpAddr, dbPath)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the identity server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if err := s.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	if err := s.sweeper.Start(serverCtx); err != nil {
		return fmt.Errorf("start session sweeper: %w", err)
	}
	defer s.sweeper.Stop()
	s.deviceServer.StartCleanup(serverCtx, s.deviceConfig.CleanupInterval)
	s.startBridgePrune(serverCtx, time.Minute)

	log.Printf("identity server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func (s *Server) startBridgePrune(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.bridge.Prune()
			}
		}
	}()
}

func openStore(path string) (*sqlitestore.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "identity.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlitestore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity sqlite store: %w", err)
	}
	return store, nil
}
