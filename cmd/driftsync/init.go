package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftlock/driftsync/internal/config"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var email string
	var dataDir string
	var serverURL string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the initial driftsync config",
		Run: func(cmd *cobra.Command, args []string) {
			if cfg, err := config.LoadFromFile(config.DefaultConfigPath); err == nil {
				fmt.Println("driftsync already initialized")
				printConfig(cfg)
				os.Exit(0)
			}

			if email == "" {
				fmt.Printf("%s: %s\n", red("ERROR"), "email is required")
				os.Exit(1)
			}

			cfg := &config.Config{
				Email:     email,
				DataDir:   dataDir,
				ServerURL: serverURL,
				Path:      config.DefaultConfigPath,
			}
			if err := cfg.Validate(); err != nil {
				fmt.Printf("%s: %s\n", red("ERROR"), err)
				os.Exit(1)
			}
			if err := cfg.Save(); err != nil {
				fmt.Printf("%s: %s\n", red("ERROR"), err)
				os.Exit(1)
			}

			fmt.Println("driftsync initialized")
			printConfig(cfg)
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", config.DefaultDataDir, "local state directory")
	cmd.Flags().StringVarP(&serverURL, "server-url", "u", config.DefaultServerURL, "backend server URL")

	return cmd
}

func printConfig(cfg *config.Config) {
	fmt.Printf("Config Path: %s\n", green(cfg.Path))
	fmt.Printf("Email:       %s\n", cyan(cfg.Email))
	fmt.Printf("Data Dir:    %s\n", cyan(cfg.DataDir))
	fmt.Printf("Server:      %s\n", cyan(cfg.ServerURL))
}
