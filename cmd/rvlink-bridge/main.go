// rvlink-bridge CLI
//
// Bridges an RVLink BLE gateway to MQTT, publishing Home Assistant
// discovery documents and device state for every entity_ready device, and
// routing MQTT commands back to the gateway over the BLE link.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/proctorlabs/rvlink-bridge/internal/api/rest"
	"github.com/proctorlabs/rvlink-bridge/internal/api/ws"
	"github.com/proctorlabs/rvlink-bridge/internal/audit"
	"github.com/proctorlabs/rvlink-bridge/internal/ble"
	"github.com/proctorlabs/rvlink-bridge/internal/config"
	"github.com/proctorlabs/rvlink-bridge/internal/logger"
	"github.com/proctorlabs/rvlink-bridge/internal/metrics"
	"github.com/proctorlabs/rvlink-bridge/internal/mux"
	"github.com/proctorlabs/rvlink-bridge/internal/publisher"
	"github.com/proctorlabs/rvlink-bridge/internal/registry"
	"github.com/proctorlabs/rvlink-bridge/internal/router"
	"github.com/proctorlabs/rvlink-bridge/internal/rules"
	"github.com/proctorlabs/rvlink-bridge/internal/supervisor"
	bletransport "github.com/proctorlabs/rvlink-bridge/internal/transport/ble"
	mqtttransport "github.com/proctorlabs/rvlink-bridge/internal/transport/mqtt"
)

var (
	version   = "1.0.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var (
	cfgFile  string
	flagSet  config.Flags
	verbose  bool
	logDebug string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "rvlink-bridge",
		Short:   "RVLink Bridge - BLE to MQTT gateway for RVLink-equipped RVs",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: built-in)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "force debug logging")

	var device, host, username, password, baseTopic, discoveryTopic, logLevel string
	var port int
	var ssl bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			flagSet = config.Flags{}
			if cmd.Flags().Changed("device") {
				flagSet.Device = &device
			}
			if cmd.Flags().Changed("host") {
				flagSet.Host = &host
			}
			if cmd.Flags().Changed("port") {
				flagSet.Port = &port
			}
			if cmd.Flags().Changed("ssl") {
				flagSet.SSL = &ssl
			}
			if cmd.Flags().Changed("username") {
				flagSet.Username = &username
			}
			if cmd.Flags().Changed("password") {
				flagSet.Password = &password
			}
			if cmd.Flags().Changed("base-topic") {
				flagSet.BaseTopic = &baseTopic
			}
			if cmd.Flags().Changed("discovery-topic") {
				flagSet.DiscoveryTopic = &discoveryTopic
			}
			if cmd.Flags().Changed("log-level") {
				flagSet.LogLevel = &logLevel
			}
			if verbose {
				logDebug = "debug"
				flagSet.LogLevel = &logDebug
			}
			return runStart()
		},
	}
	startCmd.Flags().StringVar(&device, "device", "", "BLE advertised name of the gateway")
	startCmd.Flags().StringVar(&host, "host", "", "MQTT broker host")
	startCmd.Flags().IntVar(&port, "port", 0, "MQTT broker port")
	startCmd.Flags().BoolVar(&ssl, "ssl", false, "use TLS to the MQTT broker")
	startCmd.Flags().StringVar(&username, "username", "", "MQTT username")
	startCmd.Flags().StringVar(&password, "password", "", "MQTT password")
	startCmd.Flags().StringVar(&baseTopic, "base-topic", "", "MQTT base topic prefix")
	startCmd.Flags().StringVar(&discoveryTopic, "discovery-topic", "", "Home Assistant discovery prefix")
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(startCmd, newStatusCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart() error {
	cfg, err := config.Load(cfgFile, flagSet)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config(cfg.Logging))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetGlobal(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	mqttClient := mqtttransport.NewClient(mqtttransport.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		SSL:               cfg.SSL,
		Username:          cfg.Username,
		Password:          cfg.Password,
		ConnectTimeout:    config.ConnectTimeout,
		AvailabilityTopic: cfg.BaseTopic + "avty",
	}, log.With("component", "mqtt"))
	if err := mqttClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer mqttClient.Close()

	adapter := bletransport.NewAdapter(bletransport.DefaultConfig(), log.With("component", "ble"))
	link := ble.NewLinkManager(adapter, cfg.Device, log.With("component", "link"))

	m := mux.New(link)
	m.Seed(uint16(rand.Intn(65536)))

	pub := publisher.New(mqttClient, publisher.Topics{Base: cfg.BaseTopic, Discovery: cfg.DiscoveryTopic}, log.With("component", "publisher"))
	reg := registry.New(pub)

	var sender registry.CommandSender = m
	var auditReader rest.AuditReader
	if cfg.Audit.Enabled {
		auditLog, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
		sender = audit.NewAuditingSender(m, auditLog)
		auditReader = auditLog
	}

	var ruleEngine rules.Engine
	if cfg.Rules.LuaScript != "" {
		engine, err := rules.NewLuaEngine(cfg.Rules.LuaScript)
		if err != nil {
			return fmt.Errorf("load lua rules: %w", err)
		}
		defer engine.Close()
		ruleEngine = engine
	} else if cfg.Rules.JSScript != "" {
		engine, err := rules.NewJSEngineFromFile(cfg.Rules.JSScript)
		if err != nil {
			return fmt.Errorf("load js rules: %w", err)
		}
		defer engine.Close()
		ruleEngine = engine
	}
	if ruleEngine != nil {
		reg.WithRulesEngine(ruleEngine)
	}

	sync := registry.NewSynchronizer(reg, sender, log.With("component", "sync"))
	rt := router.New(cfg.BaseTopic, reg, sender, log.With("component", "router"))

	sup := supervisor.New(link, m, reg, sync, pub, rt, mqttClient, log.With("component", "supervisor"))
	if ruleEngine != nil {
		sup.WithRulesEngine(ruleEngine)
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Endpoint)
		metricsServer.Start()
		defer metricsServer.Stop(context.Background())
	}

	if cfg.API.Enabled {
		restServer := rest.NewServer(link, reg, auditReader, rest.Config{Port: cfg.API.RESTPort, JWTSecret: cfg.API.JWTSecret}, log.With("component", "rest"))
		restServer.Start()
		defer restServer.Stop(context.Background())

		wsServer := ws.NewServer(fmt.Sprintf(":%d", cfg.API.WSPort), "/ws", log.With("component", "ws"))
		wsServer.Start()
		defer wsServer.Stop(context.Background())
		pub.WithBroadcaster(wsServer)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sup.Run(ctx)
	}()

	log.Info("rvlink-bridge started", "device", cfg.Device)

	select {
	case <-sigCh:
		log.Info("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error("supervisor exited", "error", err)
			return err
		}
	}
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a bridge process appears configured to run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, config.Flags{})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Printf("Device:      %s\n", cfg.Device)
			fmt.Printf("MQTT broker: %s:%d (ssl=%v)\n", cfg.Host, cfg.Port, cfg.SSL)
			fmt.Printf("Base topic:  %s\n", cfg.BaseTopic)
			fmt.Println("\nThis command reports configuration only; use 'rvlink-bridge start' to connect.")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rvlink-bridge %s\n", version)
			fmt.Printf("  Commit: %s\n", gitCommit)
			fmt.Printf("  Built:  %s\n", buildTime)
		},
	}
}
