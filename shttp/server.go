// Package shttp exposes a read-only HTTP surface over a running
// consensus engine, for debugging and for external observers.
package shttp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/solid-engine/solid/scrypto"
	"github.com/solid-engine/solid/sproposal"
)

// Engine is the subset of the consensus engine the HTTP surface reads.
type Engine interface {
	Height() uint64
	Hash() sproposal.ProposalHash
	MaxHeight() uint64
	IsOutOfSync() bool

	Proposal(hash sproposal.ProposalHash) (sproposal.Manifest, bool)
	CurrentProposal() sproposal.Manifest
	ConfirmedProposalsFrom(fromHeight uint64) []sproposal.Manifest
}

type Server struct {
	done chan struct{}
}

type ServerConfig struct {
	Listener net.Listener

	Engine Engine
}

func NewServer(ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s := &Server{
		done: make(chan struct{}),
	}
	go s.serve(log, cfg.Listener, srv)
	go s.waitForShutdown(ctx, srv)

	return s
}

func (s *Server) Wait() {
	<-s.done
}

func (s *Server) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-s.done:
		// s.serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
		// Forceful shutdown. We could probably log any returned error on this.
		_ = srv.Close()
	}
}

func (s *Server) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(s.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg ServerConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", handleStatus(log, cfg)).Methods("GET")
	r.HandleFunc("/proposals/current", handleCurrentProposal(log, cfg)).Methods("GET")
	r.HandleFunc("/proposals/confirmed", handleConfirmedProposals(log, cfg)).Methods("GET")
	r.HandleFunc("/proposals/{hash}", handleProposal(log, cfg)).Methods("GET")

	return r
}

type statusResponse struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	MaxHeight uint64 `json:"max_height"`
	OutOfSync bool   `json:"out_of_sync"`
}

func handleStatus(log *slog.Logger, cfg ServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		resp := statusResponse{
			Height:    e.Height(),
			Hash:      e.Hash().String(),
			MaxHeight: e.MaxHeight(),
			OutOfSync: e.IsOutOfSync(),
		}

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal status", "err", err)
		}
	}
}

type manifestResponse struct {
	Hash             string   `json:"hash,omitempty"`
	LastProposalHash string   `json:"last_proposal_hash"`
	Height           uint64   `json:"height"`
	Skips            uint64   `json:"skips"`
	Leader           string   `json:"leader"`
	Validators       []string `json:"validators"`
	AcceptCount      int      `json:"accept_count"`
}

func newManifestResponse(m sproposal.Manifest) manifestResponse {
	vals := make([]string, len(m.Content.Validators))
	for i, v := range m.Content.Validators {
		vals[i] = scrypto.ShortKey(v)
	}

	return manifestResponse{
		LastProposalHash: m.Content.LastProposalHash.String(),
		Height:           m.Content.Height,
		Skips:            m.Content.Skips,
		Leader:           scrypto.ShortKey(m.Content.LeaderID),
		Validators:       vals,
		AcceptCount:      len(m.Content.Accepts),
	}
}

func handleCurrentProposal(log *slog.Logger, cfg ServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		if err := json.NewEncoder(w).Encode(newManifestResponse(e.CurrentProposal())); err != nil {
			log.Warn("Failed to marshal current proposal", "err", err)
		}
	}
}

func handleConfirmedProposals(log *slog.Logger, cfg ServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		var from uint64
		if q := req.URL.Query().Get("from"); q != "" {
			var err error
			from, err = strconv.ParseUint(q, 10, 64)
			if err != nil {
				http.Error(w, "invalid from height", http.StatusBadRequest)
				return
			}
		}

		ms := e.ConfirmedProposalsFrom(from)
		resp := make([]manifestResponse, len(ms))
		for i, m := range ms {
			resp[i] = newManifestResponse(m)
		}

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal confirmed proposals", "err", err)
		}
	}
}

func handleProposal(log *slog.Logger, cfg ServerConfig) func(w http.ResponseWriter, req *http.Request) {
	e := cfg.Engine
	return func(w http.ResponseWriter, req *http.Request) {
		hash, err := parseHash(mux.Vars(req)["hash"])
		if err != nil {
			http.Error(w, "invalid proposal hash", http.StatusBadRequest)
			return
		}

		m, ok := e.Proposal(hash)
		if !ok {
			http.NotFound(w, req)
			return
		}

		resp := newManifestResponse(m)
		resp.Hash = hash.String()
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warn("Failed to marshal proposal", "err", err)
		}
	}
}

func parseHash(s string) (sproposal.ProposalHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return sproposal.ProposalHash{}, err
	}
	return sproposal.NewProposalHash(b)
}
