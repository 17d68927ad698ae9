package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gameboard/gamesync/go/clients/gameboard_client"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}

	root := &cobra.Command{
		Use:   "gamesync",
		Short: "Session lifecycle synchronizer for the Gameboard platform",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSessionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the synchronizer daemon with the observer gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			services, err := setupServices(config)
			if err != nil {
				return err
			}
			defer services.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go services.Observer.Start(ctx)

			server := setupServer(config, services)
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", server.Addr).Msg("observer gateway listening")
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

// newSessionCmd exposes the backend session endpoints as one-shot
// commands for operators and scripting.
func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "One-shot session operations against the backend",
	}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "state <owner-id>",
		Short: "Fetch the current session state for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := oneShotClient()
			if err != nil {
				return err
			}
			state, err := client.GetSessionState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Println("no active session")
				return nil
			}
			return printJSON(state)
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "start <owner-id>",
		Short: "Start a session for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := oneShotClient()
			if err != nil {
				return err
			}
			state, err := client.StartSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "stop <owner-id>",
		Short: "Stop an owner's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := oneShotClient()
			if err != nil {
				return err
			}
			if err := client.StopSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("session stopped")
			return nil
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "launch <owner-id> <spec-id>",
		Short: "Launch a challenge instance within an active session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := oneShotClient()
			if err != nil {
				return err
			}
			instance, err := client.Launch(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(instance)
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "undeploy <game-id> <owner-id>",
		Short: "Tear down an owner's deployed game resources",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := oneShotClient()
			if err != nil {
				return err
			}
			if err := client.Undeploy(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("undeploy requested")
			return nil
		},
	})

	return sessionCmd
}

func oneShotClient() (*gameboard_client.GameboardClient, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return gameboard_client.NewGameboardClient(config.Backend.URL, config.Backend.Token), nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
