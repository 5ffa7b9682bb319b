package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fingerworks/finger/internal/control"
	"github.com/fingerworks/finger/internal/errsamples"
	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/hub"
	"github.com/fingerworks/finger/internal/inputlock"
	"github.com/fingerworks/finger/internal/instance"
	"github.com/fingerworks/finger/internal/metrics"
	"github.com/fingerworks/finger/internal/natsbridge"
	"github.com/fingerworks/finger/internal/orchestration"
	"github.com/fingerworks/finger/internal/registry"
	"github.com/fingerworks/finger/internal/runner"
	"github.com/fingerworks/finger/internal/scheduler"
	"github.com/fingerworks/finger/internal/server"
	"github.com/fingerworks/finger/internal/toolpolicy"
	"github.com/fingerworks/finger/internal/types"
	"github.com/fingerworks/finger/internal/workspace"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Version is stamped into the PID file
const Version = "1.0.0"

func main() {
	home := flag.String("home", "finger-home", "Broker home directory")
	configPath := flag.String("config", "configs/broker.yaml", "Broker configuration file")
	httpPort := flag.Int("port", 0, "HTTP API port (overrides PORT env)")
	wsPort := flag.Int("ws-port", 0, "WebSocket port (overrides WS_PORT env)")
	natsPort := flag.Int("nats-port", 4222, "Embedded NATS port")
	flag.Parse()

	// .env is optional; explicit environment always wins
	if err := godotenv.Load(); err == nil {
		log.Printf("[MAIN] Loaded .env")
	}

	cfg := loadBrokerConfig(*configPath)
	if *httpPort == 0 {
		*httpPort = types.EnvInt(types.EnvPort, firstNonZero(cfg.HTTPPort, types.DefaultHTTPPort))
	}
	if *wsPort == 0 {
		*wsPort = types.EnvInt(types.EnvWSPort, firstNonZero(cfg.WSPort, types.DefaultWSPort))
	}
	homeFlagSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "home" {
			homeFlagSet = true
		}
	})
	if cfg.Home != "" && !homeFlagSet {
		*home = cfg.Home
	}

	if err := os.MkdirAll(*home, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create home directory: %v\n", err)
		os.Exit(1)
	}

	// Single-instance guard: stale PID files are cleaned up; a port that
	// stays taken after cleanup is fatal.
	instanceMgr := instance.NewManager(filepath.Join(*home, "fingerd.pid"), *httpPort)
	if err := instanceMgr.Acquire(Version); err != nil {
		if !instance.WaitForPortToBeAvailable(*httpPort, 3*time.Second) {
			fmt.Fprintf(os.Stderr, "Failed to acquire instance lock: %v\n", err)
			os.Exit(1)
		}
		if err := instanceMgr.Acquire(Version); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to acquire instance lock: %v\n", err)
			os.Exit(1)
		}
	}

	// Event persistence (audit log)
	var store *events.SQLiteStore
	db, err := events.OpenDB(filepath.Join(*home, "events.db"))
	if err != nil {
		log.Printf("[MAIN] Event store unavailable, continuing without persistence: %v", err)
	} else {
		store, err = events.NewSQLiteStore(db)
		if err != nil {
			log.Printf("[MAIN] Event store schema failed, continuing without persistence: %v", err)
			store = nil
		}
	}

	var eventStore events.EventStore
	if store != nil {
		eventStore = store
	}
	bus := events.NewBus(eventStore)
	moduleHub := hub.New()

	samples, err := errsamples.NewSink(filepath.Join(*home, "logs", "errorsamples"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create error sample sink: %v\n", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	sessions := workspace.NewManager(filepath.Join(*home, "sessions"))
	gate := toolpolicy.NewGate()
	registerBaselineTools(gate)

	templates := cfg.Templates
	if len(templates) == 0 {
		templates = types.DefaultStartupTemplates()
	}

	agentConfigs := registry.LoadAgentConfigs(filepath.Join(*home, "agents"))
	gate.ApplyConfigs(agentConfigs)

	var sched *scheduler.Scheduler
	defs := func() map[string]types.AgentDefinition {
		return registry.BuildDefinitions(registry.Inputs{
			Configs:     agentConfigs,
			Modules:     moduleHub.Modules(),
			Deployments: sched.Deployments(),
			Templates:   templates,
		})
	}

	sched = scheduler.New(moduleHub, bus, defs,
		scheduler.WithMetrics(collector),
		scheduler.WithErrorSink(samples),
	)
	sched.SetStartupTemplates(templates)
	sched.SetToolAccessFunc(func(agentID string) any {
		return gate.ResolveToolAccess(agentID)
	})

	// Embedded NATS + remote module bridge
	natsServer := natsbridge.NewEmbeddedServer(natsbridge.EmbeddedServerConfig{Port: *natsPort})
	if err := natsServer.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start embedded NATS: %v\n", err)
		os.Exit(1)
	}
	natsConn, err := natsbridge.Connect(natsServer.URL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to embedded NATS: %v\n", err)
		os.Exit(1)
	}
	bridge := natsbridge.NewBridge(natsConn, moduleHub)
	if err := bridge.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start module bridge: %v\n", err)
		os.Exit(1)
	}

	// Mock agent modules for canonical roles, per the mock toggles
	mockRunner := runner.NewMockRunner()
	for _, tpl := range templates {
		if cfg.MockMode || types.MockRoleEnabled(tpl.Role) {
			info := types.ModuleInfo{ID: tpl.ModuleID, Type: "agent", Metadata: map[string]string{"role": string(tpl.Role)}}
			moduleHub.Register(info, runner.NewMockAgentHandler(bus, mockRunner, tpl.AgentID, tpl.Role))
			log.Printf("[MAIN] Registered mock module for %s", tpl.AgentID)
		}
	}

	plane := control.New(sched, mockRunner, sessions, bus, samples)
	applier := orchestration.NewApplier(sched, sessions, defs)

	// Invalid orchestration config is fatal by contract; a missing file just
	// means nothing to reconcile yet.
	orchPath := filepath.Join(*home, "orchestration.json")
	if _, err := os.Stat(orchPath); err == nil {
		orchCfg, err := orchestration.Load(orchPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		if err := applier.Apply(orchCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to apply orchestration config: %v\n", err)
			os.Exit(1)
		}
	}

	locks := inputlock.NewManager(bus, lockTTLOption(cfg)...)

	srv := server.NewServer(server.Config{
		HTTPPort:  *httpPort,
		WSPort:    *wsPort,
		BodyLimit: types.EnvBodyLimit(types.EnvHTTPBodyLimit, types.DefaultHTTPBodyLimitBytes),
		OrchPath:  orchPath,
	}, server.Deps{
		Bus:       bus,
		ModuleHub: moduleHub,
		Scheduler: sched,
		Plane:     plane,
		Gate:      gate,
		Locks:     locks,
		Sessions:  sessions,
		Applier:   applier,
		WSCount:   collector.SetWSClients,
	})

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go locks.StartExpiryScan(ctx, inputlock.DefaultScanInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[MAIN] Received %v, shutting down", sig)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	sched.Close()
	bridge.Stop()
	natsConn.Close()
	natsServer.Shutdown()
	if store != nil {
		store.Close()
	}
	instanceMgr.RemovePIDFile()

	log.Printf("[MAIN] Bye")
	os.Exit(0)
}

// loadBrokerConfig reads broker.yaml; a missing file yields the defaults
func loadBrokerConfig(path string) *types.BrokerConfig {
	var cfg types.BrokerConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[MAIN] Failed to read config %s: %v", path, err)
		}
		return &cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("[MAIN] Failed to parse config %s: %v", path, err)
		return &types.BrokerConfig{}
	}
	return &cfg
}

func lockTTLOption(cfg *types.BrokerConfig) []inputlock.Option {
	if cfg.LockTTL > 0 {
		return []inputlock.Option{inputlock.WithTTL(time.Duration(cfg.LockTTL) * time.Second)}
	}
	return nil
}

// registerBaselineTools seeds the global tool registry with the executors
// the broker brokers for. Policies are adjustable at runtime via the API.
func registerBaselineTools(gate *toolpolicy.Gate) {
	for _, tool := range []toolpolicy.Tool{
		{Name: "shell", Policy: toolpolicy.PolicyAllow, ExecutorID: "executor-shell", Summary: "Run shell commands"},
		{Name: "web-search", Policy: toolpolicy.PolicyAllow, ExecutorID: "executor-web", Summary: "Search the web"},
		{Name: "file-read", Policy: toolpolicy.PolicyAllow, ExecutorID: "executor-fs", Summary: "Read workspace files"},
		{Name: "file-write", Policy: toolpolicy.PolicyAllow, ExecutorID: "executor-fs", Summary: "Write workspace files"},
		{Name: "ask-user", Policy: toolpolicy.PolicyAllow, ExecutorID: "executor-chat", Summary: "Ask the user a question"},
		{Name: "raw-exec", Policy: toolpolicy.PolicyDeny, ExecutorID: "executor-shell", Summary: "Unrestricted process execution"},
	} {
		gate.RegisterTool(tool)
	}
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
