package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/device"
	"github.com/sarchlab/pmbd/diag"
)

var (
	activateName     string
	activateCapacity uint64
	activateOptions  string
	activateHTTPAddr string
)

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate a pmbd device and serve it until interrupted.",
	RunE:  runActivate,
}

func init() {
	rootCmd.AddCommand(activateCmd)
	activateCmd.Flags().StringVar(&activateName, "name", "pmbd0", "device name")
	activateCmd.Flags().Uint64Var(&activateCapacity, "capacity", 64<<20, "device capacity in bytes")
	activateCmd.Flags().StringVar(&activateOptions, "options", "",
		"comma-separated key=val device options, as the original driver's module parameter string")
	activateCmd.Flags().StringVar(&activateHTTPAddr, "http", "",
		"if set, serve the diagnostic HTTP surface on this address")
}

func runActivate(cmd *cobra.Command, args []string) error {
	b, err := config.ParseOptions(activateOptions)
	if err != nil {
		return err
	}
	b = b.WithCapacity(activateCapacity)

	cfg, err := b.Build()
	if err != nil {
		return err
	}

	reg := device.NewRegistry()
	d, err := reg.Activate(activateName, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "activated device %q (id %s), capacity %d bytes\n",
		d.Name, d.ID, d.Capacity())

	var srv *http.Server
	if activateHTTPAddr != "" {
		dumpFn := func() string {
			return diag.Dump(diag.State{Name: d.Name, Counters: d.Counters().Snapshot()})
		}
		srv = &http.Server{Addr: activateHTTPAddr, Handler: diag.NewServer(d.Counters(), d.Stages(), dumpFn)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(cmd.ErrOrStderr(), "pmbdctl: diagnostic server: %v\n", err)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "diagnostic surface on http://%s\n", activateHTTPAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if srv != nil {
		_ = srv.Close()
	}
	return reg.Deactivate(activateName)
}
