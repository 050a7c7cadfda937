// Package cli implements verifyctl, a command line client for the
// verification service's HTTP API.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "verifyctl",
	Short: "Submit claims for verification and review their verdicts",
	Long: `verifyctl talks to a running claim verification server.

It submits text for verification, polls job status, works the human
review queue and prints analytics. Output is JSON by default; pass
--output yaml for YAML.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.verifyctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "verification server base URL")
	rootCmd.PersistentFlags().StringP("output", "o", "json", "output format (json, yaml)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().String("token", "", "reviewer bearer token")

	for _, name := range []string{"server", "output", "timeout", "token"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".verifyctl")
	}

	// VERIFYCTL_SERVER, VERIFYCTL_TOKEN, ...
	viper.SetEnvPrefix("VERIFYCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func newClientFromConfig() *Client {
	return NewClient(viper.GetString("server"), viper.GetString("token"), viper.GetDuration("timeout"))
}
