// cmd/chaos/main.go
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"joinrecs/internal/chaos"
	"joinrecs/internal/clients"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		url        string
		passphrase string
		scenario   chaos.RaceScenario
		target     chaos.Target
		pause      time.Duration
	)

	cmd := &cobra.Command{
		Use:          "chaos",
		Short:        "Run the duplicate-race game day against a running kiosk",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("an admin passphrase is required (--passphrase or CHAOS_ADMIN_PASSPHRASE)")
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

			admin := clients.NewKioskClient(url, nil).WithUserAgent("joinrecs-chaos")
			if err := admin.Login(cmd.Context(), passphrase); err != nil {
				return fmt.Errorf("failed to log in: %w", err)
			}
			target.Admin = admin
			target.Kiosk = clients.NewKioskClient(url, nil).WithUserAgent("joinrecs-chaos")

			engine := chaos.NewEngine(logger)
			engine.RegisterExperiments(target, scenario)
			return engine.ExecuteGameDay(cmd.Context(), chaos.GameDay{
				Name:      "Front desk rush",
				Date:      time.Now(),
				Scenarios: engine.Experiments(),
				Pause:     pause,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&url, "url", getEnv("KIOSK_URL", "http://localhost:8080"), "kiosk base URL")
	cmd.Flags().StringVar(&passphrase, "passphrase", os.Getenv("CHAOS_ADMIN_PASSPHRASE"), "admin passphrase")
	cmd.Flags().StringVar(&scenario.Member, "member", "", "roster name to race (must be allowed to attend)")
	cmd.Flags().StringVar(&scenario.Guest.Name, "guest-name", "Chaos Guest", "guest name to race")
	cmd.Flags().StringVar(&scenario.Guest.Phone, "guest-phone", "99990000", "guest phone to race")
	cmd.Flags().IntVar(&target.Concurrency, "concurrency", 20, "simultaneous submissions")
	cmd.Flags().DurationVar(&target.Duration, "duration", 5*time.Second, "observation time per experiment")
	cmd.Flags().DurationVar(&target.SampleEvery, "sample-every", time.Second, "metric sampling interval")
	cmd.Flags().DurationVar(&pause, "pause", 2*time.Second, "pause between experiments")
	cmd.MarkFlagRequired("member")
	return cmd
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

