package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehr/workspace/internal/config"
	"github.com/ehr/workspace/internal/platform/kv"
)

// kvCmd inspects persisted preference slices. Keys are <owner>/<domain>.
func kvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Inspect persisted workspace slices",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [prefix]",
		Short: "List stored keys, optionally under an owner prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withStore(func(ctx context.Context, store kv.Store) error {
				keys, err := store.Keys(ctx, prefix)
				if err != nil {
					return err
				}
				fmt.Printf("%-30s %s\n", "OWNER", "DOMAIN")
				for _, key := range keys {
					owner, domain, err := kv.SplitKey(key)
					if err != nil {
						fmt.Printf("%-30s %s\n", key, "?")
						continue
					}
					fmt.Printf("%-30s %s\n", owner, domain)
				}
				fmt.Printf("%d key(s)\n", len(keys))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the slice stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store kv.Store) error {
				value, ok, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %q not found", args[0])
				}
				fmt.Println(indentJSON(value))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete the slice stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store kv.Store) error {
				if err := store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withStore(fn func(ctx context.Context, store kv.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := kv.Open(ctx, cfg.KVOptions())
	if err != nil {
		return fmt.Errorf("open %s kv store: %w", cfg.KVBackend, err)
	}
	defer store.Close()
	return fn(ctx, store)
}

// indentJSON pretty-prints value, returning it unchanged if it is not JSON.
func indentJSON(value string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(value), "", "  "); err != nil {
		return value
	}
	return buf.String()
}
