package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/RangerMauve/hyper-presense/internal/discovery"
	"github.com/RangerMauve/hyper-presense/internal/identity"
	"github.com/RangerMauve/hyper-presense/internal/presence"
	"github.com/RangerMauve/hyper-presense/internal/telemetry"
	"github.com/RangerMauve/hyper-presense/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hyper-presense", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "127.0.0.1:0", "mesh listen addr (host:port)")
	codecName := fs.String("codec", "", "application state codec (json, proto, raw)")
	data := fs.String("data", "", "initial state to publish, as JSON")
	seeds := fs.String("seeds", "", "comma-separated seed peers (idhex@host:port)")
	etcdEndpoints := fs.String("etcd", "", "comma-separated etcd endpoints for seed discovery")
	metricsAddr := fs.String("metrics", "", "prometheus listen addr (empty = disabled)")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	log, err := buildLogger(*debug)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	self, err := identity.Generate()
	if err != nil {
		log.Error("generate identity", zap.Error(err))
		return 1
	}
	log.Info("local peer", zap.String("id", self.String()))

	mesh := transport.NewQUIC(self, log.Named("mesh"))
	p, err := presence.New(self, presence.Options{
		Codec:     *codecName,
		Broadcast: mesh.Broadcast,
		Logger:    log.Named("presence"),
	})
	if err != nil {
		log.Error("presence", zap.Error(err))
		return 1
	}
	p.Subscribe(&logListener{log: log.Named("events")})
	mesh.SetHandler(func(payload []byte, sender identity.PeerID) {
		if err := p.OnGetBroadcast(payload, sender); err != nil {
			log.Warn("dropped message", zap.String("sender", sender.String()), zap.Error(err))
		}
	})

	if err := mesh.Listen(*addr); err != nil {
		log.Error("mesh listen", zap.Error(err))
		return 1
	}
	defer mesh.Close()

	if *data != "" {
		var v any
		if err := json.Unmarshal([]byte(*data), &v); err != nil {
			log.Error("bad --data", zap.Error(err))
			return 1
		}
		if err := p.SetData(v); err != nil {
			log.Warn("publish state", zap.Error(err))
		}
	}

	for _, seed := range splitNonEmpty(*seeds) {
		if err := joinSeed(p, mesh, seed); err != nil {
			log.Warn("seed join failed", zap.String("seed", seed), zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if eps := splitNonEmpty(*etcdEndpoints); len(eps) > 0 {
		if err := joinViaEtcd(ctx, p, mesh, eps, self, mesh.Addr(), log); err != nil {
			log.Warn("etcd discovery failed", zap.Error(err))
		}
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("metrics server", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return 0
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// joinSeed parses "idhex@host:port", registers the neighbor on the mesh and
// notifies the presence layer of the new direct connection.
func joinSeed(p *presence.Presence, mesh *transport.QUICMesh, seed string) error {
	idHex, addr, ok := strings.Cut(seed, "@")
	if !ok {
		return fmt.Errorf("invalid seed %q, want idhex@host:port", seed)
	}
	id, err := identity.Parse(idHex)
	if err != nil {
		return err
	}
	mesh.AddNeighbor(id, addr)
	return p.OnAddPeer(id)
}

func joinViaEtcd(ctx context.Context, p *presence.Presence, mesh *transport.QUICMesh, endpoints []string, self identity.PeerID, addr string, log *zap.Logger) error {
	cli, err := discovery.NewClient(endpoints)
	if err != nil {
		return err
	}
	peers, err := discovery.ListPeers(ctx, cli)
	if err != nil {
		return err
	}
	for idHex, peerAddr := range peers {
		if idHex == self.String() {
			continue
		}
		if err := joinSeed(p, mesh, idHex+"@"+peerAddr); err != nil {
			log.Warn("discovered peer join failed", zap.String("id", idHex), zap.Error(err))
		}
	}
	if _, _, err := discovery.RegisterNode(ctx, cli, self.String(), addr, 10); err != nil {
		return err
	}
	discovery.WatchPeers(ctx, cli, func(peers map[string]string) {
		for idHex, peerAddr := range peers {
			if idHex == self.String() {
				continue
			}
			id, err := identity.Parse(idHex)
			if err != nil {
				continue
			}
			if p.HasSeenPeer(id) {
				continue
			}
			if err := joinSeed(p, mesh, idHex+"@"+peerAddr); err != nil {
				log.Warn("discovered peer join failed", zap.String("id", idHex), zap.Error(err))
			}
		}
	})
	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// logListener mirrors presence events into the log.
type logListener struct {
	log *zap.Logger
}

func (l *logListener) OnOnline(ids []identity.PeerID) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	l.log.Info("online", zap.Strings("peers", out))
}

func (l *logListener) OnPeerData(data any, id identity.PeerID) {
	l.log.Info("peer-data", zap.String("peer", id.String()), zap.Any("data", data))
}

func (l *logListener) OnPeerAddSeen(from, to identity.PeerID) {
	l.log.Info("peer-add-seen", zap.String("from", from.String()), zap.String("to", to.String()))
}

func (l *logListener) OnPeerRemoveSeen(from, to identity.PeerID) {
	l.log.Info("peer-remove-seen", zap.String("from", from.String()), zap.String("to", to.String()))
}

func (l *logListener) OnBootstrapped() {
	l.log.Info("bootstrapped")
}
