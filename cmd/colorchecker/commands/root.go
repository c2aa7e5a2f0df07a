package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/ColorChecker/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "colorchecker",
		Short: "ColorChecker - region color tolerance monitor",
		Long: `ColorChecker samples a fixed region of a live video stream, averages its
color and compares it to a reference color within a tolerance.

The result is published:
  • as a read-only boolean on a Modbus/TCP server
  • as a retained MQTT event on every transition
  • over HTTP (CGI-style status endpoints, REST API, websocket)`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/colorchecker/config.yaml)")
	rootCmd.PersistentFlags().Int("http-port", 0, "HTTP port (overrides http.port)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("source", "", "capture source: synthetic, gstreamer or x11 (overrides stream.source)")

	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("source", rootCmd.PersistentFlags().Lookup("source"))
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	viper.SetEnvPrefix("COLORCHECKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path from --config or
// COLORCHECKER_CONFIG
func GetConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.GetString("config")
}

// applyOverrides applies flags and environment variables on top of the
// file configuration.
func applyOverrides(cfg *config.Config) {
	if port := viper.GetInt("http_port"); port > 0 {
		cfg.HTTP.Port = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.Log.Level = level
	}
	if source := viper.GetString("source"); source != "" {
		cfg.Stream.Source = source
	}
	if token := viper.GetString("admin_token"); token != "" {
		cfg.HTTP.AdminToken = token
	}
	if broker := viper.GetString("mqtt_broker"); broker != "" {
		cfg.MQTT.Broker = broker
	}
}

func loadConfig() (*config.Manager, config.Config, error) {
	mgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := mgr.Get()
	applyOverrides(&cfg)
	return mgr, cfg, nil
}
