/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/payloadbench/apiserver/config"
	"github.com/payloadbench/apiserver/internal/cache"
	"github.com/payloadbench/apiserver/internal/storage"
)

var seedFile string

// seedCmd uploads the cache resource body to object storage.
var seedCmd = &cobra.Command{
	Use:   "seed-resource",
	Short: "Upload the cache resource body to object storage",
	Long: `Uploads the body served by /cache-demo-resource to the configured
object storage under CACHE_OBJECT_KEY. Without --file a body of
CACHE_BODY_SIZE bytes is generated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		if cfg.Cache.ObjectKey == "" {
			return errors.New("CACHE_OBJECT_KEY is required")
		}

		ctx := cmd.Context()
		objects, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		if objects == nil {
			return errors.New("STORAGE_BACKEND is required")
		}

		body, err := seedBody(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
		}
		if err := objects.PutBytes(ctx, cfg.Cache.ObjectKey, body, "text/plain; charset=utf-8"); err != nil {
			return fmt.Errorf("upload %s: %w", cfg.Cache.ObjectKey, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d bytes to %s/%s etag %s\n",
			len(body), objects.Bucket(), cfg.Cache.ObjectKey, cache.Fingerprint(body))
		return nil
	},
}

func seedBody(ctx context.Context, cfg config.CacheConfig) ([]byte, error) {
	if seedFile != "" {
		return os.ReadFile(seedFile)
	}
	size := cfg.BodySize
	if size <= 0 {
		size = cache.DefaultBodySize
	}
	return cache.InlineBody(size, cache.DefaultFill)(ctx)
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedFile, "file", "", "upload this file instead of a generated body")
}
