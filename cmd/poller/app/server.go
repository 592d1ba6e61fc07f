package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	utilserrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"gwmodbus/cmd/poller/options"
	baseoptions "gwmodbus/pkg/generic/options"
	"gwmodbus/pkg/protocol/modbus"
)

const (
	ComponentPoller = "modbus-poller"
)

func NewPollerCmd() *cobra.Command {
	cleanFlagSet := pflag.NewFlagSet(ComponentPoller, pflag.ContinueOnError)
	o := options.NewDefaultOptions()
	cmd := &cobra.Command{
		Use:                ComponentPoller,
		Long:               `The modbus poller connects to the configured Modbus servers, polls their points and logs the current values.`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// initial flag parse, since we disable cobra's flag parsing
			if err := cleanFlagSet.Parse(args); err != nil {
				klog.ErrorS(err, "Failed to parse flag")
				_ = cmd.Usage()
				os.Exit(1)
			}

			// check if there are non-flag arguments in the command line
			cmds := cleanFlagSet.Args()
			if len(cmds) > 0 {
				klog.ErrorS(nil, "Unknown command", "command", cmds[0])
				_ = cmd.Usage()
				os.Exit(1)
			}

			// short-circuit on help
			baseoptions.PrintHelpAndExitIfRequested(cmd, cleanFlagSet)

			// short-circuit on defaultconfig
			baseoptions.PrintDefaultConfigAndExitIfRequested(options.NewDefaultOptions(), cleanFlagSet)

			if err := baseoptions.ParseAndApplyConfigFile(o, args); err != nil {
				return err
			}

			if errs := options.Validate(o); len(errs) != 0 {
				return utilserrors.NewAggregate(errs)
			}
			return run(o)
		},
	}

	o.AddFlags(cleanFlagSet)
	o.AddBaseFlags(cmd, cleanFlagSet)

	return cmd
}

func run(o *options.Options) error {
	devices, err := o.Config()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr := modbus.NewManager(ctx)

	go wait.UntilWithContext(ctx, func(ctx context.Context) {
		connectDevices(ctx, mgr, devices)
	}, o.ConnectInterval.Duration)
	go wait.UntilWithContext(ctx, func(ctx context.Context) {
		reportValues(mgr)
	}, o.ReportInterval.Duration)
	klog.V(1).InfoS("Poller started", "devices", len(devices))

	// Graceful shutdown
	exitCh := make(chan os.Signal, 1)
	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	signal.Notify(exitCh, syscall.SIGINT, syscall.SIGTERM)
	<-exitCh
	cancel()

	shutdown, done := context.WithTimeout(context.Background(), o.Wait.Duration)
	defer done()
	if err := mgr.Destroy(shutdown); err != nil {
		klog.ErrorS(err, "Failed to close modbus sessions")
		return err
	}
	klog.V(1).InfoS("Poller stopped")
	return nil
}

// connectDevices creates the session of every device that has none yet and
// subscribes its points. Servers that fail stay in the manager's backoff.
func connectDevices(ctx context.Context, mgr *modbus.Manager, devices []*options.DeviceConfig) {
	for _, d := range devices {
		url := d.Connection.ServerUrl
		if _, ok := mgr.Session(url); ok {
			continue
		}
		if _, err := mgr.CreateClientSession(ctx, d.Connection); err != nil {
			klog.V(2).InfoS("Failed to connect device", "serverUrl", url, "error", err)
			continue
		}
		for _, s := range d.Stations {
			points, err := mgr.AddSubscription(url, s.Station, s.Points)
			if err != nil {
				klog.ErrorS(err, "Failed to subscribe points", "serverUrl", url, "station", s.Station)
				continue
			}
			klog.V(2).InfoS("Subscribed points", "serverUrl", url, "station", s.Station, "points", len(points))
		}
	}
}

func reportValues(mgr *modbus.Manager) {
	for _, url := range mgr.ServerUrls() {
		status, err := mgr.GetClientSessionStatus(url)
		if err != nil {
			continue
		}
		values, err := mgr.GetCurrentValues(url, nil)
		if err != nil {
			continue
		}
		klog.InfoS("Current values", "serverUrl", url, "online", status.Online, "connected", status.Connected, "values", values)
	}
}
