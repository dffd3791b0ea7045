package main

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/watchpost/internal/logging"
	"github.com/ayusman/watchpost/internal/tray"
)

var useTray bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture, recognition and recording pipeline with the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&useTray, "tray", false, "show a system tray menu")
}

func runNode(ctx context.Context) error {
	log := logging.ForService("main")

	n, err := buildNode(settings)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Listeners are registered before the pipeline starts.
	var t *tray.Tray
	if useTray {
		t = newTray(n, cancel, log)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.run(gctx, settings.Server.Addr)
	})

	if n.mqtt != nil {
		g.Go(func() error {
			if err := n.mqtt.Connect(gctx); err != nil {
				log.Warn("mqtt connect failed", "error", err)
			}
			return nil
		})
	}

	log.Info("watchpost started", "version", Version, "addr", settings.Server.Addr)

	if t != nil {
		// The tray owns the main goroutine until it quits.
		g.Go(func() error {
			<-gctx.Done()
			t.Quit()
			return nil
		})
		t.Run()
	}

	return g.Wait()
}

func newTray(n *node, quit func(), log *slog.Logger) *tray.Tray {
	t := tray.New(n.server.Streaming())
	t.OnToggle(n.server.SetStreaming)
	n.server.OnStreamingChange(t.SetStreaming)
	t.OnQuit(quit)
	t.OnDashboard(func() {
		url := dashboardURL(settings.Server.Addr)
		if err := openBrowser(url); err != nil {
			log.Warn("failed to open dashboard", "url", url, "error", err)
		}
	})

	n.recognizer.AddListener(t)
	if n.recorder != nil {
		n.recorder.AddListener(t)
	}
	return t
}

// dashboardURL turns a listen address into a local URL.
func dashboardURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
