package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hazz-dev/newsdesk/internal/config"
	"github.com/hazz-dev/newsdesk/internal/fetchstate"
	"github.com/hazz-dev/newsdesk/internal/probe"
	"github.com/hazz-dev/newsdesk/internal/widget"
)

var (
	colorOK   = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#25D366"}
	colorFail = lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#F25D94"}
)

// fixedConnectivity reports one probe result for the lifetime of a check.
type fixedConnectivity probe.Status

func (f fixedConnectivity) Status() probe.Status { return probe.Status(f) }

func (fixedConnectivity) Subscribe(func(cur, prev probe.Status)) func() { return func() {} }

func executeCheck(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return runChecks(ctx, cmd.OutOrStdout(), cfg)
}

// runChecks probes once, then fetches every widget against that result so an
// unreachable backend shows up as a widget error without any requests.
func runChecks(ctx context.Context, out io.Writer, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	api, err := newAPIClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}
	defer api.Close()

	status := newProber(cfg, api, nil, logger).Probe(ctx)

	// Bind manually so each widget fetches exactly once, below.
	widgets := make([]config.Widget, len(cfg.Widgets))
	for i, w := range cfg.Widgets {
		w.Manual = true
		widgets[i] = w
	}
	reg := widget.New(widgets, fixedConnectivity(status), api, logger)
	defer reg.Close()

	views := make([]widget.View, 0, len(widgets))
	for _, w := range widgets {
		v, err := reg.Refetch(ctx, w.Name)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", w.Name, err)
		}
		views = append(views, v)
	}

	renderer := lipgloss.NewRenderer(out)
	fmt.Fprintln(out, banner(renderer, status))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WIDGET\tKIND\tPHASE\tDETAIL")
	failed := 0
	for _, v := range views {
		detail := ""
		switch v.Phase {
		case fetchstate.PhaseError:
			detail = v.ErrorMessage
			failed++
		case fetchstate.PhaseEmpty:
			detail = v.EmptyMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Name, v.Kind, v.Phase, detail)
	}
	w.Flush()

	if !status.IsConnected {
		return fmt.Errorf("news API is unreachable: %s", status.Message)
	}
	if failed > 0 {
		return fmt.Errorf("%d widget(s) failed to load", failed)
	}
	return nil
}

func banner(r *lipgloss.Renderer, s probe.Status) string {
	if s.IsConnected {
		return r.NewStyle().Bold(true).Foreground(colorOK).
			Render(fmt.Sprintf("✓ Connected (%s)", s.Latency.Round(time.Millisecond)))
	}
	return r.NewStyle().Bold(true).Foreground(colorFail).
		Render("✗ " + s.Message)
}
