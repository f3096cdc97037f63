package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handlers/stepper"
)

func (a *app) selectDevices(b *Board, names []string) ([]Device, error) {
	if len(names) == 0 {
		return b.Devices, nil
	}
	out := make([]Device, 0, len(names))
	for _, n := range names {
		d, ok := b.Find(n)
		if !ok {
			return nil, errcode.New(errcode.InvalidParameter, "select device", fmt.Sprintf("no device named %q", n))
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *app) probeCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "probe [device...]",
		Short: "Initialize devices and report their state",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			b, err := a.board()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := b.Close(); err == nil {
					err = cerr
				}
			}()
			devs, err := a.selectDevices(b, args)
			if err != nil {
				return err
			}
			return probe(cmd.OutOrStdout(), devs, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the diagnostics of every device")
	return cmd
}

func probe(w io.Writer, devs []Device, verbose bool) error {
	fmt.Fprintf(w, "%-12s %-9s %-5s %-14s %s\n", "NAME", "KIND", "MODE", "STATE", "ERROR")
	failed := 0
	for _, d := range devs {
		h := d.Handler
		msg := "-"
		if err := h.Initialize(); err != nil {
			failed++
			msg = fmt.Sprintf("%s (%s)", err, errcode.Of(err))
		}
		fmt.Fprintf(w, "%-12s %-9s %-5s %-14s %s\n", h.Name(), d.Config.Kind, h.Mode(), h.State(), msg)
	}
	if verbose {
		for _, d := range devs {
			fmt.Fprintf(w, "\n%s", d.Handler.Diagnostics())
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d devices failed to initialize", failed, len(devs))
	}
	return nil
}

func (a *app) diagCommand() *cobra.Command {
	var withInit bool
	cmd := &cobra.Command{
		Use:   "diag [device...]",
		Short: "Print handler diagnostics",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			b, err := a.board()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := b.Close(); err == nil {
					err = cerr
				}
			}()
			devs, err := a.selectDevices(b, args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, d := range devs {
				fmt.Fprint(w, diagnose(d, withInit, a))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withInit, "init", false, "initialize first; steppers also dump their registers")
	return cmd
}

func diagnose(d Device, withInit bool, a *app) string {
	if !withInit {
		return d.Handler.Diagnostics()
	}
	if s, ok := d.Handler.(*stepper.Handler); ok {
		out, err := s.DumpDiagnostics()
		if err != nil {
			a.log.Warn("register dump failed", "device", d.Config.Name, "error", err)
		}
		return out
	}
	if err := d.Handler.Initialize(); err != nil {
		a.log.Warn("init failed", "device", d.Config.Name, "error", err)
	}
	return d.Handler.Diagnostics()
}
