// Command castctl serves the HTTP control surface for a media-playback
// session controller.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const appName = "castctl"

// version is overridden at build time with -ldflags.
var version = "dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "HTTP control surface for a media-playback session controller",
		Long: `castctl exposes a small HTTP API over playback devices: their track
queues can be read and edited, and transport commands sent to them.

Device state lives in a session controller: either an in-memory one seeded
with --device flags, or an external controller bridged through Redis.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
