package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trufae/notelink/src/backend"
	"github.com/trufae/notelink/src/cfg"
	"github.com/trufae/notelink/src/collab"
	"github.com/trufae/notelink/src/discovery"
	"github.com/trufae/notelink/src/proxy"
)

// serverVersion is reported in initialize's serverInfo.version.
const serverVersion = "0.1.0"

func main() {
	var (
		stdio      bool
		port       int
		configPath string
		appDir     string
	)

	root := &cobra.Command{
		Use:   "notelink",
		Short: "MCP music-playback bridge: HTTP/JSON-RPC backend and stdio proxy in one binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(configPath, appDir, port)
			if err != nil {
				return err
			}
			if stdio {
				return runStdioProxy(config)
			}
			return runBackend(config)
		},
	}

	root.PersistentFlags().BoolVar(&stdio, "stdio", false, "run as a stdio JSON-RPC proxy instead of the HTTP backend")
	root.PersistentFlags().IntVar(&port, "port", 0, "loopback port override (0 = use config/kernel allocation)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&appDir, "appdir", "", "override the per-user application-support directory name")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(configPath, appDirOverride string, portOverride int) (cfg.Config, error) {
	c, err := cfg.Load(configPath)
	if err != nil {
		return cfg.Config{}, fmt.Errorf("load config: %w", err)
	}
	if appDirOverride != "" {
		c.AppDir = appDirOverride
	}
	if portOverride != 0 {
		c.Port = portOverride
	}
	return c, nil
}

// runBackend runs in GUI/backend mode per §6: publishes the
// DiscoveryRecord and starts HttpListener, exiting only on a fatal
// signal or bind failure.
func runBackend(c cfg.Config) error {
	discoveryPath, err := c.DiscoveryPath()
	if err != nil {
		return err
	}
	tempDir, err := c.TempDir()
	if err != nil {
		return err
	}
	appDir, err := c.AppSupportDir()
	if err != nil {
		return err
	}

	activityLog, err := collab.NewFileActivityLog(filepath.Join(appDir, "activity.jsonl"))
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer activityLog.Close()

	reg := discovery.New(discoveryPath)
	sup := backend.New(backend.Options{
		ServerName:     c.ServerName,
		ServerVersion:  serverVersion,
		Port:           c.Port,
		TempDir:        tempDir,
		ArtifactMaxAge: c.ArtifactMaxAge,
		Registry:       reg,
		ActivityLog:    activityLog,
		Audio:          collab.NewNullAudioEngine(c.ServerName),
		Instruments:    collab.NewGeneralMIDI(),
		Engraver:       collab.PassthroughEngraver{},
		Rasterizer:     collab.SimpleRasterizer{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx, c.Port); err != nil {
		return fmt.Errorf("backend failed to start: %w", err)
	}
	activityLog.SetServerStatus(true)
	defer func() {
		activityLog.SetServerStatus(false)
		sup.Stop()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

// runStdioProxy runs the StdioProxy entry point per §6: exits 0 on
// clean client EOF, 1 on any fatal condition.
func runStdioProxy(c cfg.Config) error {
	discoveryPath, err := c.DiscoveryPath()
	if err != nil {
		return err
	}
	reg := discovery.New(discoveryPath)

	proxyCfg := proxy.DefaultConfig()
	proxyCfg.PollInterval = c.PollInterval
	proxyCfg.Timeout = c.DiscoveryTimeout

	p := proxy.New(reg, proxyCfg, os.Stdin, os.Stdout)
	if err := p.Run(); err != nil {
		return fmt.Errorf("stdio proxy: %w", err)
	}
	return nil
}
