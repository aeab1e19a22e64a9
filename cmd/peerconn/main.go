// Program peerconn is a command-line utility for running and exercising
// peerconn nodes.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/peerconn"
	"github.com/creachadair/peerconn/catalog"
	"github.com/creachadair/peerconn/handler"
	"github.com/creachadair/peerconn/peers"
	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

// Protocols served by "serve". The catalog protocol ID is fixed so that a
// client can discover the others.
const catalogProto peerconn.ProtocolID = 1

var protocols = catalog.Names{"catalog": catalogProto}.Add("echo", "sink")

var globalFlags struct {
	Config string `flag:"config,Path of TOML config file (default: built-in defaults)"`
	Debug  bool   `flag:"debug,Enable debug logging"`
}

var serveFlags struct {
	Listen string `flag:"listen,default=localhost:7010,Listen address"`
}

var clientFlags struct {
	Addr     string        `flag:"addr,default=localhost:7010,Address of the peer"`
	Protocol string        `flag:"protocol,default=echo,Name of the protocol to address"`
	Size     int           `flag:"size,default=1024,Size of random payload in bytes"`
	Count    int           `flag:"count,default=1,Number of messages to send"`
	Timeout  time.Duration `flag:"timeout,default=30s,Overall timeout"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for running and exercising peerconn nodes.",
		SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
			flax.MustBind(fs, &globalFlags)
		},
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "[--listen addr]",
				Help: `Run a node that accepts connections.

The node serves the following protocols:

  catalog : reports the names and IDs of the protocols served
  echo    : responds to each call with its request data
  sink    : logs and discards direct messages`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &serveFlags) },
				Run:      runServe,
			},
			{
				Name:  "call",
				Usage: "[--addr addr] [--protocol name] [--size n] [--count n]",
				Help: `Call a protocol on a remote node with random data.

Each response is checked against the request, which succeeds for the echo
protocol of a node run by "serve".`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &clientFlags) },
				Run:      runCall,
			},
			{
				Name:     "send",
				Usage:    "[--addr addr] [--protocol name] <message>...",
				Help:     "Send each message as a direct message to a remote node.",
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &clientFlags) },
				Run:      runSend,
			},
			{
				Name: "config",
				Help: "Print the effective configuration in TOML format.",
				Run:  runConfig,
			},
			packCommand,
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func loadConfig() (peerconn.Config, error) {
	if globalFlags.Config == "" {
		return peerconn.DefaultConfig(), nil
	}
	return peerconn.LoadConfig(globalFlags.Config)
}

func newLogger() (*zap.Logger, error) {
	if globalFlags.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newNode constructs a node with the current config and logger.
func newNode() (*peers.Node, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	return peers.NewNode(cfg, log), func() { log.Sync() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(env *command.Env) error {
	node, done, err := newNode()
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := signalContext()
	defer cancel()

	var lc net.ListenConfig
	lst, err := lc.Listen(ctx, "tcp", serveFlags.Listen)
	if err != nil {
		return err
	}
	log := node.Logger
	log.Info("serving", zap.String("addr", lst.Addr().String()), zap.Any("protocols", protocols))

	echoID, _ := protocols.Lookup("echo")
	sinkID, _ := protocols.Lookup("sink")
	apps := map[peerconn.ProtocolID]handler.Server{
		catalogProto: {
			Handler: handler.Query(func(context.Context, peerconn.PeerID) ([]byte, error) { return protocols.Encode(), nil }),
		},
		echoID: {
			Handler: func(_ context.Context, req *peerconn.RPCRequest) ([]byte, error) { return req.Data, nil },
		},
		sinkID: {
			Direct: func(_ context.Context, msg peerconn.ReceivedMessage) {
				log.Info("direct message", zap.String("peer", string(msg.Sender)),
					zap.Int("size", len(msg.Message.Payload())))
			},
		},
	}

	g := taskgroup.New(nil)
	for proto, srv := range apps {
		inbox := node.Apps.Register(proto, node.Config.QueueSize)
		srv.Replier = node.Senders
		srv.Logger = log.Named("app")
		if srv.Handler == nil {
			srv.Handler = func(context.Context, *peerconn.RPCRequest) ([]byte, error) {
				return nil, errors.New("calls not supported")
			}
		}
		g.Go(func() error { return srv.Serve(ctx, inbox.C()) })
	}
	err = peers.Loop(ctx, peers.NetAccepter(lst), node.Accept)
	cancel()
	g.Wait()
	log.Info("server stopped", zap.String("metrics", peerconn.Metrics().String()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolve reports the ID of the protocol named by --protocol, asking the
// remote catalog if necessary. A numeric name is used as-is.
func resolve(ctx context.Context, stub *peerconn.Stub) (peerconn.ProtocolID, error) {
	var id uint16
	if _, err := fmt.Sscanf(clientFlags.Protocol, "%d", &id); err == nil {
		return peerconn.ProtocolID(id), nil
	}
	rsp, err := stub.Call(ctx, catalogProto, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch catalog: %w", err)
	}
	var names catalog.Names
	if err := names.Decode(rsp); err != nil {
		return 0, fmt.Errorf("decode catalog: %w", err)
	}
	pid, ok := names.Lookup(clientFlags.Protocol)
	if !ok {
		return 0, fmt.Errorf("protocol %q not served by %s", clientFlags.Protocol, clientFlags.Addr)
	}
	return pid, nil
}

// dial connects a new node to --addr and resolves --protocol.
func dial() (_ *peerconn.Conn, _ peerconn.ProtocolID, cleanup func(), err error) {
	node, done, err := newNode()
	if err != nil {
		return nil, 0, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), clientFlags.Timeout)
	conn, err := node.Dial(ctx, clientFlags.Addr)
	if err != nil {
		cancel()
		done()
		return nil, 0, nil, err
	}
	cleanup = func() {
		if err := conn.Stop(); err != nil {
			node.Logger.Warn("connection failed", zap.Error(err))
		}
		cancel()
		done()
	}
	proto, err := resolve(ctx, conn.Stub())
	if err != nil {
		cleanup()
		return nil, 0, nil, err
	}
	return conn, proto, cleanup, nil
}

func runCall(env *command.Env) error {
	if clientFlags.Size < 0 || clientFlags.Count < 1 {
		return env.Usagef("invalid --size or --count")
	}
	conn, proto, cleanup, err := dial()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), clientFlags.Timeout)
	defer cancel()
	data := make([]byte, clientFlags.Size)
	for i := range clientFlags.Count {
		rand.Read(data)
		start := time.Now()
		rsp, err := conn.Stub().Call(ctx, proto, data)
		if err != nil {
			return fmt.Errorf("call %d: %w", i+1, err)
		}
		elapsed := time.Since(start)
		if !bytes.Equal(rsp, data) {
			return fmt.Errorf("call %d: response (%d bytes) does not match request (%d bytes)", i+1, len(rsp), len(data))
		}
		fmt.Printf("call %d: %d bytes echoed in %v\n", i+1, len(rsp), elapsed)
	}
	printMetrics()
	return nil
}

func runSend(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("no messages to send")
	}
	conn, proto, cleanup, err := dial()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), clientFlags.Timeout)
	defer cancel()
	for _, msg := range env.Args {
		if err := conn.Stub().DirectSend(ctx, proto, []byte(msg)); err != nil {
			return fmt.Errorf("send %q: %w", msg, err)
		}
	}
	// Close the sending side so the queued messages are flushed before the
	// connection ends.
	conn.Stub().Close()
	select {
	case <-conn.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func runConfig(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, err = cfg.WriteTo(os.Stdout)
	return err
}

func printMetrics() {
	var sb strings.Builder
	peerconn.Metrics().Do(func(kv expvar.KeyValue) {
		fmt.Fprintf(&sb, "  %s: %s\n", kv.Key, kv.Value)
	})
	fmt.Print("metrics:\n", sb.String())
}
