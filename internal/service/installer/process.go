package installer

import (
	"context"
	"os"

	"github.com/mitchellh/go-ps"

	"github.com/dagimg-dot/spotinstaller/internal/logger"
)

// stopPlayerProcesses kills running player instances before their files are
// replaced. No running instance is the common case and not an error.
func stopPlayerProcesses(ctx context.Context) error {
	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		processID := process.Pid()
		if processID == thisProcessID {
			continue
		}

		if process.Executable() != BinaryName {
			continue
		}

		runningProcess, err := os.FindProcess(processID)
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}

		logger.InfoKV(ctx, "Stopped running player", "pid", processID)
	}

	return nil
}
