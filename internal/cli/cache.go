package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/irgraph/pkg/cache"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the artifact cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached encodings, decodings and renderings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := c.openCache(ctx, false)
			if err != nil {
				return err
			}
			defer store.Close()

			clearer, ok := unwrapCache(store).(cache.Clearer)
			if !ok {
				printInfo("Cache backend %s cannot be cleared", c.Config.Cache.Backend)
				return nil
			}
			n, err := clearer.Clear(ctx)
			if err != nil {
				return err
			}
			printSuccess("Cleared %d cached entries", n)
			printDetail("Backend: %s", backendName(store))
			if fc, ok := unwrapCache(store).(*cache.FileCache); ok {
				printDetail("Directory: %s", fc.Dir())
			}
			return nil
		},
	}
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache location",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.Config.Cache.backendConfig()
			switch cfg.Backend {
			case cache.BackendRedis:
				fmt.Fprintln(stdout, "redis://"+cfg.RedisAddr)
				return nil
			case cache.BackendMongo:
				fmt.Fprintln(stdout, cfg.MongoURI)
				return nil
			}
			dir := cfg.Dir
			if dir == "" {
				var err error
				if dir, err = cacheDir(); err != nil {
					return fmt.Errorf("get cache dir: %w", err)
				}
			}
			fmt.Fprintln(stdout, dir)
			return nil
		},
	}
}

// unwrapCache strips the instrumentation wrapper added by cache.Open.
func unwrapCache(c cache.Cache) cache.Cache {
	if in, ok := c.(*cache.Instrumented); ok {
		return in.Unwrap()
	}
	return c
}

func backendName(c cache.Cache) string {
	if in, ok := c.(*cache.Instrumented); ok {
		return in.Backend()
	}
	return cache.BackendNone
}
