package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/twinklywall/ledmirror/internal/config"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ledmirror",
	Short: "Screen mirroring for LED matrices",
	Long: `ledmirror captures the primary display, downscales it to the LED matrix
resolution and serves the frames over local IPC, WebSocket and DDP.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start capturing and serving frames",
	Run: func(cmd *cobra.Command, args []string) {
		runMirror()
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Initialize the capture engine and print its capabilities",
	Run: func(cmd *cobra.Command, args []string) {
		probe()
	},
}

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List visible top-level window titles",
	Run: func(cmd *cobra.Command, args []string) {
		listWindows()
	},
}

var callCmd = &cobra.Command{
	Use:   "call <method> [json-params]",
	Short: "Call a method on a running instance over local IPC",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		params := ""
		if len(args) == 2 {
			params = args[1]
		}
		callMethod(args[0], params)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		cfg.IPCSecret = redact(cfg.IPCSecret)
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.SaveTo(config.Default(), cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration written.")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledmirror v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ledmirror.yaml in the config dir)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(windowsCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration, exiting on fatal errors.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Config warning: %v\n", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", f)
		}
		os.Exit(1)
	}
	return cfg
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
