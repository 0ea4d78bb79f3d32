package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"joanabot/internal/app"
	logx "joanabot/pkg/logx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "joanabot",
		Short:         "Recipe chat assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the assistant (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "senders",
			Short: "List stored senders in first-contact order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return listSenders(cmd, cfgPath)
			},
		},
		&cobra.Command{
			Use:   "history <sender>",
			Short: "Print the stored conversation of one sender",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return printHistory(cmd, cfgPath, args[0])
			},
		},
	)
	return root
}

func serve(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watchdog(gctx)
		return nil
	})

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	case <-parent.Done():
		reason = app.StopAppStop
	}
	cancel()
	_ = g.Wait()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

func listSenders(cmd *cobra.Command, cfgPath string) error {
	st, err := app.OpenStore(cfgPath, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	senders, err := st.ListSenders(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, s := range senders {
		fmt.Fprintln(out, s)
	}
	return nil
}

func printHistory(cmd *cobra.Command, cfgPath, sender string) error {
	st, err := app.OpenStore(cfgPath, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	h, found, err := st.LoadHistory(cmd.Context(), sender)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no history for %q", sender)
	}
	out := cmd.OutOrStdout()
	if h.DisplayName != "" {
		fmt.Fprintf(out, "# %s (%s)\n", h.Sender, h.DisplayName)
	} else {
		fmt.Fprintf(out, "# %s\n", h.Sender)
	}
	for _, t := range h.Turns {
		fmt.Fprintf(out, "[%s] %-9s %s\n", t.At.Local().Format(time.DateTime), t.Role, t.Text)
	}
	return nil
}
