package apihttp

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"filedrop/internal/domain"
)

// statusView is a StatusEvent with the text a progress screen shows.
type statusView struct {
	domain.StatusEvent
	Headline     string  `json:"headline"`
	Summary      string  `json:"summary"`
	ProgressText string  `json:"progressText"`
	Progress     float64 `json:"progress"`
}

func newStatusView(ev domain.StatusEvent) statusView {
	return statusView{
		StatusEvent:  ev,
		Headline:     headline(ev),
		Summary:      statusSummary(ev),
		ProgressText: humanizeBytes(ev.BytesDone) + " / " + humanizeBytes(ev.BytesTotal),
		Progress:     progressRatio(ev.BytesDone, ev.BytesTotal),
	}
}

func headline(ev domain.StatusEvent) string {
	switch {
	case ev.Terminal && ev.Success:
		return "Transfer complete"
	case ev.Terminal:
		return "Transfer failed"
	case ev.Phase == domain.PhaseSending:
		return "Sending File..."
	default:
		return "Receiving File..."
	}
}

// statusSummary renders the one-line peer and rate gauge.
func statusSummary(ev domain.StatusEvent) string {
	return fmt.Sprintf("Peers: %d | ↓ %s/s | ↑ %s/s",
		ev.Peers, humanizeBytes(ev.DownRateBps), humanizeBytes(ev.UpRateBps))
}

func humanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
