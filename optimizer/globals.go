package optimizer

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for the state directory and logging context.
	DefaultAppName = "media-optimizer"

	// DefaultStateDir holds the per-root ledger files.
	DefaultStateDir = filepath.Join(getHomeDir(), "."+DefaultAppName)

	// DefaultIgnoreFile is looked up at the root of the scanned tree.
	DefaultIgnoreFile = ".optimizeignore"
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			// Last resort - use tmp directory
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
