// Command port-forward-controller wires the PCP client engine, the
// reconciler bridge, and the status listener together and runs them
// until terminated.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	toolscache "k8s.io/client-go/tools/cache"
	ctrl "sigs.k8s.io/controller-runtime"

	pcpforwardv1alpha1 "github.com/pcpforward/controller/api/v1alpha1"
	"github.com/pcpforward/controller/internal/controller"
	"github.com/pcpforward/controller/internal/indexer"
	pcpclient "github.com/pcpforward/controller/internal/pcp/client"
	"github.com/pcpforward/controller/internal/pcp/primitives"
	"github.com/pcpforward/controller/internal/pcp/wire"
	"github.com/pcpforward/controller/internal/pcpnet"
	"github.com/pcpforward/controller/internal/status"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	logger := zapr.NewLogger(zapLog)
	ctrl.SetLogger(logger)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Bind the PCP socket before anything else depends on it, so a bad
	// bind address fails fast instead of after the manager is already up.
	transport, err := pcpnet.NewUDPTransport(cfg.network, cfg.bindAddr)
	if err != nil {
		return fmt.Errorf("bind PCP socket: %w", err)
	}
	defer transport.Close()

	nonce, err := randomNonce()
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	converter := controller.Converter{
		Nonce:             nonce,
		KeepaliveInterval: cfg.keepaliveInterval.Seconds(),
	}

	engine, err := pcpclient.New(cfg.serverAddr, transport,
		pcpclient.WithKeepaliveInterval(cfg.keepaliveInterval),
		pcpclient.WithLogger(logger.WithName("engine")),
	)
	if err != nil {
		return fmt.Errorf("build client engine: %w", err)
	}

	scheme, err := pcpforwardv1alpha1.SchemeBuilder.Build()
	if err != nil {
		return fmt.Errorf("build scheme: %w", err)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	reconciler := &controller.PCPMapReconciler{
		Client:    mgr.GetClient(),
		Engine:    engine,
		Converter: converter,
	}
	if err := reconciler.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("setup reconciler: %w", err)
	}

	events := make(chan status.WatchEvent, 64)
	if err := registerWatchBridge(mgr, events); err != nil {
		return fmt.Errorf("register status watch bridge: %w", err)
	}

	listener := status.New(converter, mgr.GetClient(), engine.Notifications(), events, logger.WithName("status"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return engine.Run(groupCtx) })
	group.Go(func() error { return listener.Run(groupCtx) })
	group.Go(func() error { return mgr.Start(groupCtx) })

	if err := group.Wait(); err != nil && groupCtx.Err() == nil {
		return fmt.Errorf("component exited: %w", err)
	}
	return nil
}

// registerWatchBridge wires the manager's cache informer for PCPMap
// into the indexer.Event stream the status listener consumes: an Init
// event before registration, InitApply/Apply/Delete as the informer
// reports them, and InitDone once the informer's initial list
// completes.
func registerWatchBridge(mgr ctrl.Manager, out chan<- status.WatchEvent) error {
	informer, err := mgr.GetCache().GetInformer(context.Background(), &pcpforwardv1alpha1.PCPMap{})
	if err != nil {
		return err
	}

	out <- status.WatchEvent{Kind: indexer.Init}

	if _, err := informer.AddEventHandler(indexerEventHandler{out: out}); err != nil {
		return err
	}

	go func() {
		if toolscache.WaitForCacheSync(nil, informer.HasSynced) {
			out <- status.WatchEvent{Kind: indexer.InitDone}
		}
	}()
	return nil
}

// indexerEventHandler adapts client-go's ResourceEventHandler to the
// indexer.Event stream.
type indexerEventHandler struct {
	out chan<- status.WatchEvent
}

func (h indexerEventHandler) OnAdd(obj any, isInInitialList bool) {
	pcpMap, ok := obj.(*pcpforwardv1alpha1.PCPMap)
	if !ok {
		return
	}
	kind := indexer.Apply
	if isInInitialList {
		kind = indexer.InitApply
	}
	h.out <- status.WatchEvent{Kind: kind, Object: pcpMap}
}

func (h indexerEventHandler) OnUpdate(_, newObj any) {
	pcpMap, ok := newObj.(*pcpforwardv1alpha1.PCPMap)
	if !ok {
		return
	}
	h.out <- status.WatchEvent{Kind: indexer.Apply, Object: pcpMap}
}

func (h indexerEventHandler) OnDelete(obj any) {
	pcpMap, ok := obj.(*pcpforwardv1alpha1.PCPMap)
	if !ok {
		tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown)
		if !ok {
			return
		}
		pcpMap, ok = tombstone.Obj.(*pcpforwardv1alpha1.PCPMap)
		if !ok {
			return
		}
	}
	h.out <- status.WatchEvent{Kind: indexer.Delete, Object: pcpMap}
}

type config struct {
	network           string
	bindAddr          *net.UDPAddr
	serverAddr        *net.UDPAddr
	keepaliveInterval time.Duration
}

// loadConfig reads the bootstrap environment inputs (PCP_BIND_ADDR,
// PCP_BIND_PORT, PCP_SERVER_ADDR, PCP_KEEPALIVE_INTERVAL_SECONDS)
// directly via os.Getenv; this wiring is out of scope for a CLI/env
// framework. PCP_SERVER_ADDR is required: the server address is not
// discovered, and no local advertised IP is read.
func loadConfig() (config, error) {
	bindIP := envOr("PCP_BIND_ADDR", "0.0.0.0")
	bindPort := envOr("PCP_BIND_PORT", strconv.Itoa(pcpnet.LocalPort))

	addr, err := netip.ParseAddr(bindIP)
	if err != nil {
		return config{}, fmt.Errorf("PCP_BIND_ADDR %q: %w", bindIP, err)
	}
	port, err := strconv.ParseUint(bindPort, 10, 16)
	if err != nil {
		return config{}, fmt.Errorf("PCP_BIND_PORT %q: %w", bindPort, err)
	}

	network := "udp4"
	if addr.Is6() && !addr.Is4In6() {
		network = "udp6"
	}

	bindAddr := &net.UDPAddr{IP: net.IP(addr.AsSlice()), Port: int(port)}

	serverHost := os.Getenv("PCP_SERVER_ADDR")
	if serverHost == "" {
		return config{}, fmt.Errorf("PCP_SERVER_ADDR is required (gateway address or address:port; default port %d)", wire.ServerPort)
	}
	serverAddr, err := resolveServerAddr(serverHost)
	if err != nil {
		return config{}, fmt.Errorf("PCP_SERVER_ADDR %q: %w", serverHost, err)
	}

	keepaliveSeconds := envOr("PCP_KEEPALIVE_INTERVAL_SECONDS", "30")
	seconds, err := strconv.Atoi(keepaliveSeconds)
	if err != nil {
		return config{}, fmt.Errorf("PCP_KEEPALIVE_INTERVAL_SECONDS %q: %w", keepaliveSeconds, err)
	}

	return config{
		network:           network,
		bindAddr:          bindAddr,
		serverAddr:        serverAddr,
		keepaliveInterval: time.Duration(seconds) * time.Second,
	}, nil
}

func resolveServerAddr(hostport string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No ":port" suffix: the well-known PCP server port applies.
		host = hostport
		portStr = strconv.Itoa(int(wire.ServerPort))
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("not a valid IP address")
	}
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func randomNonce() (primitives.Nonce, error) {
	var n primitives.Nonce
	_, err := rand.Read(n[:])
	return n, err
}
