package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/iFaceless/tinkv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	path    string
	verbose bool
)

// withStore opens the datastore, runs fn and closes it again. Any
// error becomes a non-zero exit through cobra.
func withStore(fn func(store *tinkv.Store) error) error {
	opts := []tinkv.ConfOption{}
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		opts = append(opts, tinkv.Logger(logger.Sugar()))
	}
	store, err := tinkv.Open(path, opts...)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "tinkv",
		Short:         "An embeddable persistent key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&path, "path", "p", "tinkv-data", "path of the datastore directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *tinkv.Store) error {
				value, err := store.Get([]byte(args[0]))
				if err != nil {
					return err
				}
				if value != nil {
					fmt.Println(string(value))
				}
				return nil
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set the value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *tinkv.Store) error {
				return store.Set([]byte(args[0]), []byte(args[1]))
			})
		},
	}

	delCmd := &cobra.Command{
		Use:   "del <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *tinkv.Store) error {
				return store.Remove([]byte(args[0]))
			})
		},
	}

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "List all keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *tinkv.Store) error {
				printKeys(store, "")
				return nil
			})
		},
	}

	scanCmd := &cobra.Command{
		Use:   "scan <prefix>",
		Short: "List keys starting with a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *tinkv.Store) error {
				printKeys(store, args[0])
				return nil
			})
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show datastore statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *tinkv.Store) error {
				out, err := json.MarshalIndent(store.Stats(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact the datastore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *tinkv.Store) error {
				return store.Compact()
			})
		},
	}

	rootCmd.AddCommand(getCmd, setCmd, delCmd, keysCmd, scanCmd, statsCmd, compactCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printKeys(store *tinkv.Store, prefix string) {
	keys := make([]string, 0, store.Len())
	for _, key := range store.Keys() {
		if strings.HasPrefix(string(key), prefix) {
			keys = append(keys, string(key))
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Println(key)
	}
}
