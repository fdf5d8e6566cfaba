package main

import (
	"fmt"
	"os"

	"github.com/iFaceless/tinkv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var (
		path    string
		addr    string
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:           "tinkv-server",
		Short:         "A Redis-compatible server backed by tinkv",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if verbose {
				logger, err = zap.NewDevelopment()
			}
			if err != nil {
				return err
			}
			defer logger.Sync()
			slogger := logger.Sugar()

			store, err := tinkv.Open(path, tinkv.Logger(slogger))
			if err != nil {
				return err
			}
			defer store.Close()

			return tinkv.NewServer(store, addr, slogger).ListenAndServe()
		},
	}
	rootCmd.Flags().StringVarP(&path, "path", "p", "tinkv-data", "path of the datastore directory")
	rootCmd.Flags().StringVarP(&addr, "addr", "a", tinkv.DefaultServerAddr, "address to listen on")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
