package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kbsearch/internal/docstore"
	"kbsearch/internal/helper"
	"kbsearch/internal/models"
	"kbsearch/internal/parser"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Rebuild the vector index from every document in the corpus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.rag.Ingest(cmd.Context(), models.TriggerCLI)
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Copy a file into the corpus and rebuild the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addFile(cmd, args[0])
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract and chunk one file, optionally adding it to the corpus",
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		answer, err := a.rag.Query(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", answer.Query)

		log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		for i, s := range answer.Sources {
			fmt.Printf("[%d] %s (%.3f)\n%s\n\n", i+1, s.Source, s.Score, s.Content)
		}

		log.Info().Str("model", answer.Model).Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", answer.Answer)
		if answer.Warning != "" {
			log.Warn().Msg(answer.Warning)
		}
		return nil
	},
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List the documents in the corpus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := docstore.New(cfg.Corpus.DocumentsDir, cfg.Corpus.AllowedExtensions)
		docs, err := store.List()
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Printf("%-40s %-10s %d\n", d.Name, docstore.TypeLabel(d.Type), d.Size)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus, index and model status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		helper.PrettyPrint(a.rag.Status(cmd.Context()))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent index rebuilds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.rag.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		helper.PrettyPrint(runs)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "path to the document file")
	ingestCmd.Flags().Bool("dry-run", false, "print the chunks, do not touch the corpus")
	_ = ingestCmd.MarkFlagRequired("file")

	historyCmd.Flags().Int("limit", 20, "number of runs to show")

	rootCmd.AddCommand(processCmd, addCmd, ingestCmd, queryCmd, documentsCmd, statusCmd, historyCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	filePath, _ := cmd.Flags().GetString("file")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if !dryRun {
		return addFile(cmd, filePath)
	}

	ft, ok := parser.FileTypeFor(filePath)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrFileTypeNotAllowed, filepath.Ext(filePath))
	}
	text, err := parser.ExtractText(filePath, ft)
	if err != nil {
		return err
	}
	log.Info().Str("file", filePath).Int("chars", len(text)).Msg("Parsed content")

	chunker := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	chunks, err := chunker.Chunk(models.ExtractedDocument{
		Content:  text,
		Source:   filepath.Base(filePath),
		FileType: ft,
	})
	if err != nil {
		return err
	}
	helper.PrettyPrint(chunks)
	return nil
}

func addFile(cmd *cobra.Command, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	name, result, err := a.rag.Upload(cmd.Context(), filepath.Base(filePath), f, models.TriggerCLI)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s. %s\n", name, result.Message)
	return nil
}
