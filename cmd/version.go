package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo is set at build time through -ldflags
var BuildInfo struct {
	Version   string
	GitCommit string
	BuildTime string
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run: func(cmd *cobra.Command, args []string) {
		version := BuildInfo.Version
		if version == "" {
			version = "dev"
		}

		fmt.Println("Shipment Service")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Git Commit: %s\n", BuildInfo.GitCommit)
		fmt.Printf("Built:      %s\n", BuildInfo.BuildTime)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
