package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kbsearch/internal/config"
)

const configFilePath = "./configs/config.yaml"

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kbsearch",
	Short: "Question answering over a folder of documents",
	Long: `kbsearch indexes the documents in a folder for semantic retrieval and
answers questions from the most relevant passages with a language model.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		setupLogger(&cfg.Log, os.Stderr)
		log.Debug().Interface("config", redacted(cfg)).Msg("Loaded config")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", configFilePath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(logCfg *config.LogConfig, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logCfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if logCfg.JSON {
		log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// redacted returns a copy of c that is safe to log.
func redacted(c *config.Config) config.Config {
	out := *c
	if out.LLM.Key != "" {
		out.LLM.Key = "***"
	}
	if out.EmbedLLM.Key != "" {
		out.EmbedLLM.Key = "***"
	}
	if out.RAG.EncryptionKey != "" {
		out.RAG.EncryptionKey = "***"
	}
	return out
}
