package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Skryldev/imgconv"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := imgconv.New(cfg, backendOptions()...)
		if err != nil {
			return err
		}
		defer engine.Stop()

		formats := make([]string, 0, 8)
		for _, f := range engine.Encodable() {
			formats = append(formats, string(f))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imgconv %s (%s, %s/%s)\nbackend: %s\noutput formats: %v\n",
			version, runtime.Version(), runtime.GOOS, runtime.GOARCH, backendName, formats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
