// Package dposhttp serves a read-only HTTP view of a consensus engine.
package dposhttp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dposcodec/dposjson"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposengine"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	Engine *dposengine.Engine

	CryptoRegistry *gcrypto.Registry

	// If set, its metrics are served at /metrics.
	Gatherer prometheus.Gatherer
}

// NewHTTPServer serves the API on cfg.Listener until ctx is canceled.
func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: NewHandler(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		// h.serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

// NewHandler returns the API routes without starting a server.
func NewHandler(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	codec := dposjson.MarshalCodec{CryptoRegistry: cfg.CryptoRegistry}

	r.HandleFunc("/round", handleRound(log, codec, cfg.Engine.CurrentRound)).Methods("GET")
	r.HandleFunc("/round/previous", handleRound(log, codec, cfg.Engine.PreviousRound)).Methods("GET")
	r.HandleFunc("/lib", handleLib(log, cfg)).Methods("GET")
	r.HandleFunc("/miners/{pubkey}/current", handleCurrentMiner(log, cfg)).Methods("GET")
	r.HandleFunc("/miners/{pubkey}/command", handleCommand(log, cfg)).Methods("GET")

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

func handleRound(
	log *slog.Logger,
	codec dposjson.MarshalCodec,
	get func() *dposconsensus.Round,
) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		r := get()
		if r == nil {
			http.Error(w, "no such round", http.StatusNotFound)
			return
		}

		b, err := codec.MarshalRound(r)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to marshal round: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(b); err != nil {
			log.Warn("Failed to write round response", "err", err)
		}
	}
}

func handleLib(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		var resp struct {
			Height      uint64
			RoundNumber uint64

			MaximumBlocksCount int
		}
		resp.Height, resp.RoundNumber = e.ImpliedLibHeight()
		resp.MaximumBlocksCount = e.MaximumBlocksCount()

		writeJSON(log, w, resp)
	}
}

func handleCurrentMiner(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		pk, at, ok := parseMinerRequest(w, req, cfg.CryptoRegistry)
		if !ok {
			return
		}

		isCurrent, err := e.IsCurrentMiner(pk, at)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var resp struct {
			At        int64
			IsCurrent bool
		}
		resp.At = at.UnixMilli()
		resp.IsCurrent = isCurrent

		writeJSON(log, w, resp)
	}
}

func handleCommand(log *slog.Logger, cfg HTTPServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		pk, at, ok := parseMinerRequest(w, req, cfg.CryptoRegistry)
		if !ok {
			return
		}

		cmd, err := e.ConsensusCommand(pk, at)
		if err != nil {
			var notMiner dposconsensus.NotMinerError
			if errors.As(err, &notMiner) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var resp struct {
			Behaviour string

			// Unix milliseconds, or zero if there is nothing to wait for.
			At int64
		}
		resp.Behaviour = cmd.Behaviour.String()
		if !cmd.At.IsZero() {
			resp.At = cmd.At.UnixMilli()
		}

		writeJSON(log, w, resp)
	}
}

// parseMinerRequest reads the hex-encoded public key from the path
// and the optional "at" query parameter, in Unix milliseconds.
// The current time is used if "at" is absent.
// On failure it writes the error response and returns false.
func parseMinerRequest(
	w http.ResponseWriter, req *http.Request, reg *gcrypto.Registry,
) (gcrypto.PubKey, time.Time, bool) {
	b, err := hex.DecodeString(mux.Vars(req)["pubkey"])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid public key encoding: %v", err), http.StatusBadRequest)
		return nil, time.Time{}, false
	}
	pk, err := reg.Unmarshal(b)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid public key: %v", err), http.StatusBadRequest)
		return nil, time.Time{}, false
	}

	at := time.Now()
	if s := req.URL.Query().Get("at"); s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid at parameter: %v", err), http.StatusBadRequest)
			return nil, time.Time{}, false
		}
		at = time.UnixMilli(ms)
	}
	return pk, dposconsensus.CanonicalTime(at), true
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to marshal response", "err", err)
	}
}
