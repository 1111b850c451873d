// Command hashtreed is the long-running daemon wiring the ten
// components into a single process: a blob-transport HTTP server and
// client, a WebRTC signalling peer, and a thin CLI for local put/get/
// resolve operations, the way the teacher's main.go bootstraps env,
// identity, and listeners before entering its serve loop.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hoshizora/hashtree-node/internal/blobstore"
	htcid "github.com/hoshizora/hashtree-node/internal/cid"
	"github.com/hoshizora/hashtree-node/internal/config"
	"github.com/hoshizora/hashtree-node/internal/hashtree"
	"github.com/hoshizora/hashtree-node/internal/identity"
	"github.com/hoshizora/hashtree-node/internal/logging"
	"github.com/hoshizora/hashtree-node/internal/metrics"
	"github.com/hoshizora/hashtree-node/internal/peerfetch"
	"github.com/hoshizora/hashtree-node/internal/privacy"
	"github.com/hoshizora/hashtree-node/internal/registry"
	"github.com/hoshizora/hashtree-node/internal/signaling"
	"github.com/hoshizora/hashtree-node/internal/social"
	"github.com/hoshizora/hashtree-node/internal/transport"

	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	configEnv    string
	configPaths  []string
	identityPass string
	debugLogging bool
)

func main() {
	root := &cobra.Command{
		Use:   "hashtreed",
		Short: "hash-tree content-addressed node",
	}
	root.PersistentFlags().StringVar(&configEnv, "env", "", "named config override (reads config/<env>.yaml)")
	root.PersistentFlags().StringSliceVar(&configPaths, "config-dir", nil, "config search path (default ./config)")
	root.PersistentFlags().StringVar(&identityPass, "identity-pass", "", "passphrase for the sealed identity file (or set HASHTREE_IDENTITY_PASS)")
	root.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable development-mode logging")

	root.AddCommand(serveCmd(), putCmd(), getCmd(), resolveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// node bundles every wired component a subcommand might need.
type node struct {
	cfg *config.Config
	id  identity.Identity
	log interface {
		Infof(string, ...any)
		Errorf(string, ...any)
	}
	blobs    *blobstore.Store
	registry *registry.Registry
	engine   *hashtree.Engine
	social   *social.Graph
	sigCtrl  *signaling.Controller
	relay    *signaling.RelayClient
}

func bootstrap() (*node, error) {
	cfg, err := config.Load(configEnv, configPaths...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	sugar, err := logging.New(debugLogging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	pass := identityPass
	if pass == "" {
		pass = os.Getenv("HASHTREE_IDENTITY_PASS")
	}
	var id identity.Identity
	if pass != "" {
		if _, statErr := os.Stat(cfg.Identity.KeyPath); statErr == nil {
			id, err = identity.Load(cfg.Identity.KeyPath, []byte(pass))
		} else {
			id = identity.Derive([]byte(cfg.Identity.OrgSalt))
			err = identity.Save(cfg.Identity.KeyPath, []byte(pass), id)
		}
	} else {
		id = identity.Derive([]byte(cfg.Identity.OrgSalt))
	}
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	sugar.Infof("node identity %s", id.NodeID[:16])

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	blobs, err := blobstore.Open(cfg.Blobstore.DBPath, cfg.Blobstore.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("open blobstore: %w", err)
	}

	upCounter := metrics.NewTransportCounter(metrics.TransportBytesTotal)
	downCounter := metrics.NewTransportCounter(metrics.TransportBytesTotal)
	federation := transport.New(nil, upCounter, downCounter)
	for _, ep := range cfg.Transport.Endpoints {
		federation.AddEndpoint(transport.Endpoint{BaseURL: ep})
	}

	guard := privacy.New()

	g := social.New(id.NodeID)

	var sigCtrl *signaling.Controller

	relay := signaling.NewRelayClient(cfg.Signaling.RelayURL, func(raw json.RawMessage, from peer.ID) {
		if sigCtrl == nil {
			return
		}
		if err := sigCtrl.HandleSignalingMessage(raw, from); err != nil {
			sugar.Errorf("signaling message from %s: %v", from, err)
		}
	})

	peerGet := func(ctx context.Context, hash htcid.ID) ([]byte, error) {
		if sigCtrl == nil {
			return nil, fmt.Errorf("signalling controller not ready")
		}
		data, ok := sigCtrl.Get(ctx, hash)
		if !ok {
			return nil, fmt.Errorf("peer fetch: not found")
		}
		return data, nil
	}
	bridge := peerfetch.New(peerGet)

	engine := hashtree.New(hashtree.NewLocalStore(blobs), federation, bridge, guard)

	persist := registry.NewPersistence(cfg.Registry.Path, []byte(pass))
	reg := registry.New(noopPublish, persist)
	if err := reg.Hydrate(); err != nil {
		sugar.Errorf("registry hydrate: %v", err)
	}

	lookup := func(ctx context.Context, hash htcid.ID) ([]byte, bool) {
		data, err := engine.ReadFile(ctx, hash)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	storer := func(ctx context.Context, hash htcid.ID, data []byte) error {
		return blobs.Put(ctx, hash.HashHex(), data, false)
	}
	marker := func(peerID string, hash htcid.ID) {
		guard.GrantPeerShareableEncryptedHash(privacy.PeerID(peerID), hash)
	}
	shareGuard := func(peerID string, hash htcid.ID) bool {
		return guard.ShouldServeHashToPeer(privacy.PeerID(peerID), hash)
	}

	sigCtrl = signaling.New(signaling.Config{
		Identity:   peer.ID(id.NodeID),
		SignPriv:   id.SignPriv,
		SignPub:    id.SignPub,
		BoxPriv:    id.BoxPriv,
		BoxPub:     id.BoxPub,
		Pools:      signaling.NewPoolConfig(cfg.Signaling.FollowsPoolSize, cfg.Signaling.OtherPoolSize),
		Transport:  relay,
		Lookup:     lookup,
		Store:      storer,
		MarkShared: marker,
		Guard:      shareGuard,
	})

	return &node{
		cfg:      cfg,
		id:       id,
		log:      sugar,
		blobs:    blobs,
		registry: reg,
		engine:   engine,
		social:   g,
		sigCtrl:  sigCtrl,
		relay:    relay,
	}, nil
}

func noopPublish(ctx context.Context, userIdentity, treeName string, rec registry.Record) error {
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the blob-transport HTTP server and signalling controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := bootstrap()
			if err != nil {
				return err
			}
			defer n.blobs.Close()
			defer n.registry.Close()

			backend := transport.NewStoreAdapter(
				func(ctx context.Context, hash string) ([]byte, error) {
					rec, err := n.blobs.Get(ctx, hash)
					if err != nil {
						return nil, err
					}
					return rec.Bytes, nil
				},
				n.blobs.Has,
				n.blobs.Put,
			)
			srv := transport.NewServer(backend, nil, func(format string, args ...any) {
				n.log.Infof(format, args...)
			})

			mux := http.NewServeMux()
			mux.Handle("/", srv.Handler())
			mux.Handle("/metrics", promhttp.Handler())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := n.relay.Dial(ctx); err != nil {
				n.log.Errorf("relay dial: %v", err)
			}
			n.sigCtrl.Start(ctx)
			defer n.sigCtrl.Stop()

			n.log.Infof("listening on %s", n.cfg.Node.ListenHTTP)
			httpSrv := &http.Server{Addr: n.cfg.Node.ListenHTTP, Handler: mux}
			return httpSrv.ListenAndServe()
		},
	}
}

func putCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [file]",
		Short: "store a file and print its nhash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := bootstrap()
			if err != nil {
				return err
			}
			defer n.blobs.Close()
			defer n.registry.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			id, err := n.engine.PutFile(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Println(id.String())
			return nil
		},
	}
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [nhash]",
		Short: "fetch a blob by its nhash and write it to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := bootstrap()
			if err != nil {
				return err
			}
			defer n.blobs.Close()
			defer n.registry.Close()

			id, err := htcid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse nhash: %w", err)
			}
			data, err := n.engine.ReadFile(cmd.Context(), id)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func resolveCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "resolve [identity] [tree]",
		Short: "resolve a tree-root record, waiting for a peer-supplied update if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := bootstrap()
			if err != nil {
				return err
			}
			defer n.blobs.Close()
			defer n.registry.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			rec, err := n.registry.Resolve(ctx, args[0], args[1], timeout)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", hex.EncodeToString(rec.Hash.Hash[:]), rec.Hash.String())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a resolution")
	return cmd
}
