package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/courses"
	"github.com/skillbridge/skillbridge/internal/logger"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"

	// embedBatchSize bounds one embedding API call.
	embedBatchSize = 50
	// uploadBatchSize bounds one Meilisearch document upload.
	uploadBatchSize = 100
)

var indexCmd = &cobra.Command{
	Use:   "index <dataset.csv>",
	Short: "Embed a course catalog CSV and upload it to the search index",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		index(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation before uploading")
}

func index(cmd *cobra.Command, datasetPath string) {
	ctx := context.Background()

	rootLogger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		rootLogger.Fatal("getting a config", zap.Error(err))
	}

	if config == nil {
		rootLogger.Fatal("config is required")
	}

	catalog, err := courses.LoadCatalogFile(datasetPath)
	if err != nil {
		rootLogger.Fatal("loading course dataset", zap.Error(err))
	}

	if len(catalog) == 0 {
		rootLogger.Info("exiting", zap.String("reason", "no indexable courses in dataset"))
		return
	}

	rootLogger.Info("loaded course dataset",
		zap.String("dataset", datasetPath),
		zap.Int("courses", len(catalog)),
	)

	if cmd.Flag("yes").Value.String() == "false" {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Embed and upload %d courses?", len(catalog)),
			Items: []string{PromptYes, PromptNo},
		}

		_, answer, err := prompt.Run()
		if err != nil {
			rootLogger.Fatal("exiting", zap.Error(err))
		}
		if answer != PromptYes {
			rootLogger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	generator := buildGenerator(ctx, config, rootLogger)
	courseIndex := buildCourseIndex(config, rootLogger)

	docs := make([]courses.IndexedCourse, 0, len(catalog))
	dimensions := 0
	for start := 0; start < len(catalog); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(catalog) {
			end = len(catalog)
		}

		batch := catalog[start:end]
		texts := make([]string, 0, len(batch))
		for _, course := range batch {
			texts = append(texts, course.Description)
		}

		vectors, err := generator.EmbedTexts(ctx, texts)
		if err != nil {
			rootLogger.Fatal("embedding course descriptions",
				zap.Error(err),
				zap.Int("batch_start", start),
			)
		}

		if dimensions == 0 && len(vectors) > 0 {
			dimensions = len(vectors[0])
		}

		for i, course := range batch {
			docs = append(docs, courses.NewIndexedCourse(course, vectors[i]))
		}

		rootLogger.Info("embedded courses", zap.Int("done", end), zap.Int("total", len(catalog)))
	}

	if err := courseIndex.EnsureEmbedder(dimensions); err != nil {
		rootLogger.Fatal("configuring index embedder", zap.Error(err))
	}

	if err := courseIndex.AddCourses(docs, uploadBatchSize); err != nil {
		rootLogger.Fatal("uploading courses", zap.Error(err))
	}

	rootLogger.Info("course catalog indexed", zap.Int("courses", len(docs)))
}
