package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"castnote/internal/castv2"
	"castnote/internal/discovery"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List cast receivers on the local network",
	RunE:  runDevices,
}

func init() {
	devicesCmd.Flags().Int("ticks", 5, "Number of one-second discovery rounds")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ticks, _ := cmd.Flags().GetInt("ticks")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	browser := discovery.NewMDNSBrowser(castv2.Factory(castv2.NewClient(nil, app.log)), app.log)
	browser.OnDiscovered = func(discovery.Device) { app.metrics.IncDevicesObserved() }

	n := 0
	s := discovery.NewSession(browser, discovery.Options{
		MaxTicks: ticks,
		OnObserved: func(d discovery.Device) {
			n++
			fmt.Fprintf(out, "%2d. %s (%s)\n", n, d.DisplayName(), d.Address())
		},
	}, app.log)

	if err := s.Start(ctx); err != nil {
		return err
	}
	<-s.Done()

	if len(s.Devices()) == 0 {
		fmt.Fprintln(out, "No receivers found.")
	}
	return nil
}
