package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"multikobo/cmdbuf"
	"multikobo/spotter"
)

type cli struct {
	dataDir string
	debug   bool
	gs      settings
	loaded  bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "kobo",
		Short:         "MultiKobo network client",
		Long:          "kobo finds MultiKobo servers on the local network, joins one and renders the command stream it sends.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.play(cmd.Context(), cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.dataDir, "data", dataDirPath, "directory holding settings.toml")
	pf.BoolVar(&c.debug, "debug", false, "verbose/debug logging")
	pf.String("host", gsdef.Host, "server to join instead of waiting for discovery")
	pf.Int("port", gsdef.Port, "server TCP port")
	pf.Int("discovery-port", gsdef.DiscoveryPort, "UDP port beacons arrive on")
	pf.String("revision", gsdef.Revision, "protocol revision: final or legacy")
	pf.Int("world-width", gsdef.WorldWidth, "world width in pixels, a power of two (0 for the revision default)")
	pf.Int("world-height", gsdef.WorldHeight, "world height in pixels, a power of two (0 for the revision default)")
	pf.Int("chunk-size", gsdef.ChunkSize, "largest read from the server (0 for the revision default)")
	pf.Duration("liveness-timeout", gsdef.LivenessTimeout, "forget servers not heard from for this long")
	pf.Duration("sweep-interval", gsdef.SweepInterval, "discovery polling interval")
	pf.Duration("tick-interval", gsdef.TickInterval, "session reader polling interval")
	pf.Bool("fullscreen", gsdef.Fullscreen, "start fullscreen (F12 toggles)")
	pf.Bool("notifications", gsdef.Notifications, "desktop notification when a server appears")
	pf.String("debug-addr", gsdef.DebugAddr, "serve /metrics, /hosts and /session on this address")

	root.AddCommand(
		newPlayCmd(c),
		newHostsCmd(c),
		newReplayCmd(c),
		newServeCmd(c),
		newSettingsCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	setupLogging(c.debug)
	gs, loaded, err := loadSettings(c.dataDir, cmd.Flags())
	if err != nil {
		return err
	}
	c.gs, c.loaded = gs, loaded
	logDebug("settings: %+v (file used: %v)", gs, loaded)
	return nil
}

func newPlayCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Join a server and play (the default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.play(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (c *cli) play(ctx context.Context, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cl, err := newClient(ctx, c.gs)
	if err != nil {
		return err
	}
	if c.gs.Host == "" {
		if err := cl.startDiscovery(); err != nil {
			return err
		}
	}
	cl.startDebug()

	err = runGame(cl, c.dataDir)
	cancel()
	cl.shutdown()
	fmt.Fprint(out, cl.summary())
	return err
}

func newHostsCmd(c *cli) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Print servers as they appear and disappear",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return c.hosts(ctx, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func (c *cli) hosts(ctx context.Context, out io.Writer) error {
	cl, err := newClient(ctx, c.gs)
	if err != nil {
		return err
	}
	if err := cl.startDiscovery(); err != nil {
		return err
	}
	cl.startDebug()
	fmt.Fprintf(out, "listening for servers on UDP port %d\n", c.gs.DiscoveryPort)
	for ev := range cl.listener.Events() {
		fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), ev)
		if ev.Kind == spotter.HostAdded {
			notifyHostAdded(c.gs, ev.Addr)
		}
	}
	cl.shutdown()
	for _, h := range cl.listener.Hosts() {
		fmt.Fprintf(out, "%s  last seen %s ago\n", h.Addr, formatDuration(time.Since(h.LastSeen)))
	}
	fmt.Fprint(out, cl.summary())
	return nil
}

func newReplayCmd(c *cli) *cobra.Command {
	var calls bool
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Decode a captured session offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := replayPCAP(args[0], replayOptions{
				Port:     c.gs.Port,
				Revision: c.gs.revision(),
				Calls:    calls,
			}, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report)
			return err
		},
	}
	cmd.Flags().BoolVar(&calls, "calls", false, "print every decoded call and input byte")
	return cmd
}

func newServeCmd(c *cli) *cobra.Command {
	var (
		listen   string
		beaconTo string
		noBeacon bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local demo server and announce it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = ":" + strconv.Itoa(c.gs.Port)
			}
			return c.serve(cmd.Context(), listen, beaconTo, !noBeacon)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "TCP address to accept players on (default :port)")
	cmd.Flags().StringVar(&beaconTo, "beacon-to", "", "send beacons to this address instead of broadcasting")
	cmd.Flags().BoolVar(&noBeacon, "no-beacon", false, "do not announce the server")
	return cmd
}

func (c *cli) serve(ctx context.Context, listen, beaconTo string, announce bool) error {
	world, err := c.gs.world()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	srv := newDemoServer(ln, c.gs.revision(), world, c.gs.TickInterval)
	tasks := newTaskGroup(maxBackgroundTasks)
	if announce {
		b, err := newAnnouncer(c.gs.DiscoveryPort, beaconTo)
		if err != nil {
			ln.Close()
			return err
		}
		tasks.Go("beacon", func() error { return b.Run(ctx) })
	}
	logInfo("demo server on %v (%v revision)", ln.Addr(), c.gs.revision())
	err = srv.Serve(ctx)
	tasks.Wait()
	logInfo("demo server sent %d frames and read %d inputs", srv.frames.Load(), srv.inputs.Load())
	return err
}

// newAnnouncer builds the serve beacon. With no explicit target it
// broadcasts on the discovery port and carries this host's address.
func newAnnouncer(port int, to string) (*spotter.Beacon, error) {
	ip := outboundIP()
	if to == "" {
		return spotter.DialBeacon(port, ip)
	}
	dst, err := net.ResolveUDPAddr("udp4", to)
	if err != nil {
		return nil, fmt.Errorf("beacon target: %w", err)
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	return spotter.NewBeacon(conn, dst, ip), nil
}

// outboundIP is the local address used to reach the LAN. Dialing UDP sends
// nothing.
func outboundIP() net.IP {
	conn, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return nil
	}
	defer conn.Close()
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.IP
	}
	return nil
}

func newSettingsCmd(c *cli) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the effective settings as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := encodeSettings(c.gs)
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}
			if !write {
				return nil
			}
			return saveSettings(c.dataDir, c.gs)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "also save them to settings.toml")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "kobo %s (protocol %v, legacy %v)\n",
				appVersion, cmdbuf.RevisionFinal, cmdbuf.RevisionLegacy)
			return err
		},
	}
}
