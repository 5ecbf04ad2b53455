// Command inspect prints stored records and runs single model or similarity
// calls for debugging prompts.
//
//	inspect -post <id>
//	inspect -advice "title" "body"
//	inspect -similarity "text a" "text b"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/k0kubun/pp/v3"

	"github.com/letieu/advice-scorer/config"
	"github.com/letieu/advice-scorer/internal/advice"
	"github.com/letieu/advice-scorer/internal/database"
	"github.com/letieu/advice-scorer/internal/embeddings"
	"github.com/letieu/advice-scorer/internal/models"
	"github.com/letieu/advice-scorer/internal/pipeline"
	"github.com/letieu/advice-scorer/internal/similarity"
)

func main() {
	postID := flag.String("post", "", "print the stored record for a post id")
	adviceMode := flag.Bool("advice", false, "generate advice for the post given as title and body arguments")
	similarityMode := flag.Bool("similarity", false, "score the two text arguments")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	switch {
	case *postID != "":
		err = printRecord(ctx, cfg, *postID)
	case *adviceMode:
		err = printAdvice(ctx, cfg, flag.Args())
	case *similarityMode:
		err = printSimilarity(ctx, cfg, flag.Args())
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func printRecord(ctx context.Context, cfg *config.Config, postID string) error {
	store, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(ctx, postID)
	if err != nil {
		return err
	}
	pp.Print(rec)
	return nil
}

func printAdvice(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("-advice needs a title and an optional body")
	}
	post := models.Post{ID: "inspect", Title: args[0]}
	if len(args) == 2 {
		post.Body = args[1]
	}

	backend, err := advice.NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	res, err := advice.New(backend).GenerateAdvice(ctx, post, pipeline.OptionsFromConfig(cfg).Prompt)
	if err != nil {
		return err
	}
	pp.Print(res)
	return nil
}

func printSimilarity(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("-similarity needs exactly two texts")
	}
	embedder, err := embeddings.New(cfg.Embeddings.Host, cfg.Embeddings.Model, cfg.Embeddings.CacheSize)
	if err != nil {
		return err
	}
	score, err := similarity.NewScorer(embedder).Score(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	pp.Println(map[string]any{"model": embedder.Model(), "similarity": score})
	return nil
}
