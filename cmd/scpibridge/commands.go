package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/scpi-bridge/internal/bridge"
	"github.com/scpi-bridge/internal/config"
	"github.com/scpi-bridge/internal/instrument/sim"
	"github.com/scpi-bridge/internal/logging"
	"github.com/scpi-bridge/internal/server"
	"github.com/scpi-bridge/internal/store"
	"github.com/scpi-bridge/internal/telemetry"
)

type options struct {
	configPath string
	port       int
	verbose    bool
}

func newRootCommand(version string) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "scpibridge",
		Short:        "SCPI control server for a simulated instrument.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (default $SCPI_BRIDGE_CONFIG)")
	cmd.PersistentFlags().IntVarP(&opts.port, "port", "p", 0, "override the SCPI TCP port")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every protocol line")

	cmd.AddCommand(newChannelsCommand(opts))
	cmd.AddCommand(newQueriesCommand(opts))
	cmd.AddCommand(newResetCommand(opts))
	return cmd
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.port != 0 {
		cfg.Network.SCPI.Port = opts.port
	}
	if opts.verbose {
		cfg.Logging.Verbose = true
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log.Printf("Starting SCPI bridge for %s %s (%s)", cfg.Instrument.Make, cfg.Instrument.Model, cfg.Instrument.Serial)

	simOpts := []sim.Option{}

	if cfg.State.Path != "" {
		st, err := store.Open(cfg.State.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		log.Printf("Persisting settings in %s", st.Path())
		simOpts = append(simOpts, sim.WithStore(st))
	}

	publisher, err := telemetry.New(cfg.Telemetry.MQTT)
	if err != nil {
		return err
	}
	defer publisher.Close()
	simOpts = append(simOpts, sim.WithPublisher(publisher))

	inst, err := sim.New(cfg.Instrument, simOpts...)
	if err != nil {
		return fmt.Errorf("failed to create instrument: %w", err)
	}
	defer func() {
		if err := inst.Close(); err != nil {
			log.Printf("Instrument shutdown error: %v", err)
		}
	}()

	queries := bridge.NewQueryRegistry()
	inst.RegisterQueries(queries)
	dispatcher := bridge.NewDispatcher(inst, queries)

	tcpServer, err := server.NewServer(cfg.Network.SCPI, dispatcher)
	if err != nil {
		return err
	}
	if err := tcpServer.Listen(); err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() {
		errc <- tcpServer.Serve()
	}()

	var wsServer *server.WSServer
	if cfg.Network.WebSocket.Port != 0 {
		wsServer, err = server.NewWSServer(cfg.Network, dispatcher)
		if err != nil {
			tcpServer.Close()
			return err
		}
		go func() {
			errc <- wsServer.ListenAndServe()
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errc:
		if serveErr != nil {
			log.Printf("Server failed: %v", serveErr)
		}
	}

	log.Println("Shutting down servers...")

	if wsServer != nil {
		if err := wsServer.Close(); err != nil {
			log.Printf("WebSocket server shutdown error: %v", err)
		}
	}
	if err := tcpServer.Close(); err != nil {
		log.Printf("SCPI server shutdown error: %v", err)
	}

	log.Println("Servers stopped")
	return serveErr
}

func newChannelsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List the configured instrument channels.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			inst, err := sim.New(cfg.Instrument)
			if err != nil {
				return err
			}
			defer inst.Close()

			renderChannels(cmd.OutOrStdout(), inst)
			return nil
		},
	}
}

func renderChannels(w io.Writer, inst *sim.Instrument) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Type", "ID"})
	table.SetBorder(true)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	for _, name := range inst.ChannelNames() {
		id, err := inst.ChannelID(name)
		if err != nil {
			continue
		}
		table.Append([]string{name, inst.ChannelType(id).String(), strconv.FormatUint(uint64(id), 10)})
	}
	table.Render()
}

func newQueriesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "queries",
		Short: "List the device-specific queries the simulator answers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			inst, err := sim.New(cfg.Instrument)
			if err != nil {
				return err
			}
			defer inst.Close()

			reg := bridge.NewQueryRegistry()
			inst.RegisterQueries(reg)
			renderQueries(cmd.OutOrStdout(), reg)
			return nil
		},
	}
}

func renderQueries(w io.Writer, reg *bridge.QueryRegistry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Verb", "Description"})
	table.SetBorder(true)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})

	for _, name := range reg.List() {
		h, _ := reg.Get(name)
		table.Append([]string{name + "?", h.GetDescription()})
	}
	table.Render()
}

func newResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the saved instrument settings so the next start uses defaults.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.State.Path == "" {
				return fmt.Errorf("no state path configured")
			}

			st, err := store.Open(cfg.State.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Delete(cfg.Instrument.Serial); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared saved settings for %s in %s\n", cfg.Instrument.Serial, st.Path())
			return nil
		},
	}
}
