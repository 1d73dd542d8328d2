package main

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"time"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/solid-engine/solid/scrypto"
	"github.com/solid-engine/solid/scrypto/scryptotest"
	"github.com/solid-engine/solid/sengine"
	"github.com/solid-engine/solid/shttp"
	"github.com/solid-engine/solid/sproposal"
	"github.com/solid-engine/solid/sproposal/sproposaltest"
)

type demoConfig struct {
	Validators  int
	SkipTimeout time.Duration
	HTTPAddr    string
}

type demoNode struct {
	log *slog.Logger

	name   string
	signer scrypto.Signer
	engine *sengine.Engine

	// Incoming manifests and accepts from the other nodes.
	inbox chan any
}

func runDemo(ctx context.Context, log *slog.Logger, cfg demoConfig) error {
	signers := scryptotest.DeterministicEd25519Signers(cfg.Validators)

	validators := make([]scrypto.PubKey, len(signers))
	for i, s := range signers {
		validators[i] = s.PubKey()
	}

	app := sproposaltest.App{}

	engineCfg := sengine.DefaultConfig()
	engineCfg.SkipTimeout = cfg.SkipTimeout

	nodes := make([]*demoNode, cfg.Validators)
	for i := range nodes {
		name := petname.Generate(2, "-")
		signer := signers[i]
		nodes[i] = &demoNode{
			log:    log.With("node", name),
			name:   name,
			signer: signer,
			engine: sengine.New(log.With("node", name, "sys", "engine"), signer, validators, app, engineCfg),
			inbox:  make(chan any, 128),
		}
		nodes[i].log.Info("Created validator", "key", scrypto.ShortKey(signer.PubKey()))
	}

	for _, n := range nodes {
		go n.run(ctx, nodes, app, validators, engineCfg.MinProposalDuration)
		n.engine.Run(ctx)
	}

	if cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return err
		}
		log.Info("Debug HTTP server listening", "addr", ln.Addr(), "node", nodes[0].name)
		defer shttp.NewServer(ctx, log.With("sys", "http"), shttp.ServerConfig{
			Listener: ln,
			Engine:   nodes[0].engine,
		}).Wait()
	}

	<-ctx.Done()

	for _, n := range nodes {
		n.engine.Wait()
	}
	return nil
}

func (n *demoNode) run(
	ctx context.Context,
	nodes []*demoNode,
	app sproposal.App,
	validators []scrypto.PubKey,
	proposalDelay time.Duration,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-n.engine.Events():
			n.handleEvent(ctx, ev, nodes, app, validators, proposalDelay)

		case msg := <-n.inbox:
			n.handleMessage(msg)
		}
	}
}

func (n *demoNode) handleEvent(
	ctx context.Context,
	ev sengine.Event,
	nodes []*demoNode,
	app sproposal.App,
	validators []scrypto.PubKey,
	proposalDelay time.Duration,
) {
	switch ev := ev.(type) {
	case sengine.AcceptEvent:
		// Votes go directly to the designated next leader.
		for _, peer := range nodes {
			if peer.signer.PubKey().Equal(ev.Accept.LeaderID) {
				peer.deliver(ctx, ev.Accept)
				return
			}
		}
		n.log.Warn("No node for accept leader", "leader", scrypto.ShortKey(ev.Accept.LeaderID))

	case sengine.ProposeEvent:
		n.log.Info("Proposing", "height", ev.Height, "skips", ev.Skips)

		// Pace the chain rather than confirming as fast as possible.
		select {
		case <-ctx.Done():
			return
		case <-time.After(proposalDelay):
		}

		var state [8]byte
		binary.BigEndian.PutUint64(state[:], ev.Height)

		content := sproposal.ManifestContent{
			LastProposalHash: ev.LastProposalHash,
			Skips:            ev.Skips,
			Height:           ev.Height,
			LeaderID:         n.signer.PubKey(),
			State:            state[:],
			Validators:       validators,
			Accepts:          ev.Accepts,
		}
		sig, err := n.signer.Sign(content.SignBytes(app))
		if err != nil {
			n.log.Error("Failed to sign manifest", "err", err)
			return
		}

		manifest := sproposal.NewManifest(content, sig)
		for _, peer := range nodes {
			peer.deliver(ctx, manifest)
		}

	case sengine.CommitEvent:
		n.log.Info(
			"Committed proposal",
			"height", ev.Manifest.Content.Height,
			"skips", ev.Manifest.Content.Skips,
			"leader", scrypto.ShortKey(ev.Manifest.Content.LeaderID),
		)

	case sengine.OutOfSyncEvent:
		n.log.Warn("Out of sync", "height", ev.Height, "max_seen", ev.MaxSeenHeight)

		// In-process catch-up: replay another node's confirmed chain.
		for _, peer := range nodes {
			if peer == n {
				continue
			}
			manifests := peer.engine.ConfirmedProposalsFrom(ev.Height)
			for i := len(manifests) - 1; i >= 0; i-- {
				n.deliver(ctx, manifests[i])
			}
			return
		}
	}
}

func (n *demoNode) handleMessage(msg any) {
	switch msg := msg.(type) {
	case sproposal.Manifest:
		err := n.engine.ReceiveProposal(msg)
		if err != nil && !isExpectedProposalErr(err) {
			n.log.Warn("Rejected proposal", "height", msg.Content.Height, "err", err)
		}

	case sproposal.ProposalAccept:
		if err := n.engine.ReceiveAccept(msg); err != nil {
			n.log.Warn("Rejected accept", "height", msg.Proposal.Height, "err", err)
		}
	}
}

func (n *demoNode) deliver(ctx context.Context, msg any) {
	select {
	case <-ctx.Done():
	case n.inbox <- msg:
	}
}

// isExpectedProposalErr reports errors that occur in normal operation:
// re-delivery of a known proposal, or replayed history during catch-up.
func isExpectedProposalErr(err error) bool {
	var exists sengine.ProposalExistsError
	return errors.As(err, &exists) || errors.Is(err, sengine.ErrProposalHeightTooLow)
}
