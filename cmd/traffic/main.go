package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/polytech-platform/traffic-attendance-service/internal/app"
	"github.com/polytech-platform/traffic-attendance-service/internal/config"
	"github.com/polytech-platform/traffic-attendance-service/internal/tools/kioskui"
)

func main() {
	root := &cobra.Command{
		Use:           "traffic",
		Short:         "QR code attendance service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), kioskCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the attendance backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func kioskCmd() *cobra.Command {
	var (
		server     string
		displayPIN string
		linkBase   string
	)
	cmd := &cobra.Command{
		Use:   "kiosk",
		Short: "Run a terminal kiosk that displays the rotating attendance QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if displayPIN == "" {
				return fmt.Errorf("--display-pin is required")
			}
			model := kioskui.New(kioskui.NewClient(server, displayPIN), linkBase)
			_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "backend base URL")
	cmd.Flags().StringVar(&displayPIN, "display-pin", "", "display PIN of this tablet")
	cmd.Flags().StringVar(&linkBase, "link-base", "traffic://attend", "deep link base encoded in the QR code")
	return cmd
}
