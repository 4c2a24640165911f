package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voiceclone-go/voiceclone-go/internal/config"
)

var (
	cfgFile string

	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "voiceclone-server",
	Short: "Voice registry and cloning server",
	Long: `voiceclone-server keeps a registry of cloned voices, checks the quality
of reference recordings and forwards synthesis requests to an external
speech-synthesis engine.

Start the server:
  voiceclone-server

Start with custom settings:
  voiceclone-server --listen 0.0.0.0:7860 --engine http://localhost:8081 --data-dir /srv/voices

Use environment variables:
  VOICECLONE_LISTEN=0.0.0.0:7860 VOICECLONE_ENGINE=http://localhost:8081 voiceclone-server`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("voiceclone-server %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Build Date: %s\n", BuildDate)
	},
}

// bindings maps config keys to their flag and environment variable.
var bindings = []struct {
	key  string
	flag string
	env  string
}{
	{"server.listen", "listen", "VOICECLONE_LISTEN"},
	{"server.read_timeout", "read-timeout", "VOICECLONE_READ_TIMEOUT"},
	{"server.write_timeout", "write-timeout", "VOICECLONE_WRITE_TIMEOUT"},
	{"engine.url", "engine", "VOICECLONE_ENGINE"},
	{"engine.timeout", "engine-timeout", "VOICECLONE_ENGINE_TIMEOUT"},
	{"engine.max_connections", "", "VOICECLONE_ENGINE_MAX_CONNECTIONS"},
	{"storage.root", "data-dir", "VOICECLONE_DATA_DIR"},
	{"storage.legacy_root", "legacy-dir", "VOICECLONE_LEGACY_DIR"},
	{"synthesis.language", "language", "VOICECLONE_LANGUAGE"},
	{"synthesis.model_id", "model", "VOICECLONE_MODEL"},
	{"synthesis.queue_size", "queue-size", "VOICECLONE_QUEUE_SIZE"},
	{"synthesis.default_script", "default-script", "VOICECLONE_DEFAULT_SCRIPT"},
	{"auth.api_key", "api-key", "VOICECLONE_API_KEY"},
	{"limits.max_text_length", "max-text-length", "VOICECLONE_MAX_TEXT_LENGTH"},
	{"limits.max_upload_bytes", "max-upload-bytes", "VOICECLONE_MAX_UPLOAD_BYTES"},
	{"logging.level", "log-level", "VOICECLONE_LOG_LEVEL"},
	{"logging.format", "log-format", "VOICECLONE_LOG_FORMAT"},
}

func init() {
	cobra.OnInitialize(initConfig)

	d := config.Default()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.Flags().String("listen", d.Server.Listen, "Server listen address")
	rootCmd.Flags().Duration("read-timeout", d.Server.ReadTimeout, "HTTP read timeout")
	rootCmd.Flags().Duration("write-timeout", d.Server.WriteTimeout, "HTTP write timeout")

	rootCmd.Flags().String("engine", d.Engine.URL, "Speech-synthesis engine URL")
	rootCmd.Flags().Duration("engine-timeout", d.Engine.Timeout, "Engine request timeout")

	rootCmd.Flags().String("data-dir", d.Storage.Root, "Voice storage directory")
	rootCmd.Flags().String("legacy-dir", d.Storage.LegacyRoot, "Legacy profile directory migrated on first start")

	rootCmd.Flags().String("language", d.Synthesis.Language, "Default synthesis language")
	rootCmd.Flags().String("model", d.Synthesis.ModelID, "Default engine model id")
	rootCmd.Flags().Int("queue-size", d.Synthesis.QueueSize, "Generate calls allowed to wait behind the running one")
	rootCmd.Flags().String("default-script", "", "Default reference script (empty = built-in)")

	rootCmd.Flags().String("api-key", "", "API key for authentication (empty = no auth)")
	rootCmd.Flags().Int("max-text-length", 0, "Maximum text length (0 = unlimited)")
	rootCmd.Flags().Int64("max-upload-bytes", d.Limits.MaxUploadBytes, "Maximum request body size")

	rootCmd.Flags().String("log-level", d.Logging.Level, "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", d.Logging.Format, "Log format (json, text)")

	bindFlags()

	rootCmd.AddCommand(versionCmd)
}

func bindFlags() {
	for _, b := range bindings {
		if b.flag == "" {
			continue
		}
		flag := rootCmd.Flags().Lookup(b.flag)
		if flag == nil {
			continue
		}
		_ = viper.BindPFlag(b.key, flag)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("VOICECLONE")
	viper.AutomaticEnv()

	for _, b := range bindings {
		_ = viper.BindEnv(b.key, b.env)
	}

	d := config.Default()
	viper.SetDefault("server.listen", d.Server.Listen)
	viper.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	viper.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	viper.SetDefault("engine.url", d.Engine.URL)
	viper.SetDefault("engine.timeout", d.Engine.Timeout)
	viper.SetDefault("engine.max_connections", d.Engine.MaxConnections)
	viper.SetDefault("storage.root", d.Storage.Root)
	viper.SetDefault("storage.legacy_root", d.Storage.LegacyRoot)
	viper.SetDefault("synthesis.language", d.Synthesis.Language)
	viper.SetDefault("synthesis.model_id", d.Synthesis.ModelID)
	viper.SetDefault("synthesis.queue_size", d.Synthesis.QueueSize)
	viper.SetDefault("synthesis.default_script", d.Synthesis.DefaultScript)
	viper.SetDefault("auth.api_key", "")
	viper.SetDefault("limits.max_text_length", 0)
	viper.SetDefault("limits.max_upload_bytes", d.Limits.MaxUploadBytes)
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)

	bindFlags()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// shutdownTimeout bounds how long in-flight requests and synthesis jobs may
// take to drain.
const shutdownTimeout = 30 * time.Second
