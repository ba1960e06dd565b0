package popup

import (
	"fmt"

	"github.com/normanking/mikochat/internal/availability"
	"github.com/normanking/mikochat/internal/status"
)

// Status line and notice texts.
const (
	TextChecking           = "Checking model availability…"
	TextDownloadable       = "The model can be downloaded. Starting first-time setup…"
	TextDownloading        = "Downloading the model. Please wait…"
	TextPreparingFmt       = "Preparing model… (%d/%d)"
	TextDownloadingFmt     = "Downloading model… (%d/%d)"
	TextDownloadPercentFmt = "Downloading model… %d%%"
	TextReady              = "Ready (on-device)"
	TextUnsupported        = "No on-device model is configured. Set model.provider to ollama."
	TextCheckFailedPrefix  = "Availability check failed: "
	TextUnavailable        = "The on-device model is unavailable. Check that Ollama is running and the model supports Japanese."
	TextTimeout            = "Model preparation timed out. Restart and try again."

	TextTooLongFmt         = "Input must be %d characters or fewer (currently %d)."
	TextNoSession          = "Session creation failed. Please reset."
	TextCreateFailedPrefix = "Session creation failed: "
	TextReplyErrorPrefix   = "Reply error: "
)

// StatusText renders an availability report for the status line.
func StatusText(r availability.Report) string {
	switch r.State {
	case availability.StateDownloadable:
		if r.Attempt > 0 {
			return fmt.Sprintf(TextPreparingFmt, r.Attempt, r.MaxPolls)
		}
		return TextDownloadable
	case availability.StateDownloading:
		if r.Attempt > 0 {
			return fmt.Sprintf(TextDownloadingFmt, r.Attempt, r.MaxPolls)
		}
		return TextDownloading
	case availability.StateAvailable:
		return TextReady
	case availability.StateUnsupported:
		return TextUnsupported
	case availability.StateCheckError:
		if r.Err != nil {
			return TextCheckFailedPrefix + r.Err.Error()
		}
		return TextCheckFailedPrefix + "unknown error"
	case availability.StateTimeout:
		return TextTimeout
	case availability.StateUnchecked:
		return TextChecking
	default:
		return TextUnavailable
	}
}

func levelFor(s availability.State) status.Level {
	switch s {
	case availability.StateAvailable:
		return status.LevelOK
	case availability.StateDownloadable, availability.StateDownloading, availability.StateUnchecked:
		return status.LevelWarn
	default:
		return status.LevelError
	}
}
