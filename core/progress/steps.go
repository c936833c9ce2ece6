package progress

import (
	"regexp"
	"strconv"
	"strings"

	"video-orchestrator/core/models"
	"video-orchestrator/core/tuning"
)

var percentToken = regexp.MustCompile(`(\d{1,3})\s*%`)

// Percent derives a display percentage for a job. This is a heuristic
// for the UI only; refund and completion decisions depend solely on the
// status enum.
//
// For processing jobs an explicit "NN%" token in the progress text wins;
// otherwise the tuning ladder is scanned top to bottom, so more specific
// rules must precede generic ones (e.g. "lipsync processing completed"
// before "lipsync").
func Percent(tun *tuning.Tuning, status models.JobStatus, progressText string) int {
	switch status {
	case models.JobStatusPending:
		return 5
	case models.JobStatusQueued:
		return 10
	case models.JobStatusCompleted:
		return 100
	case models.JobStatusFailed:
		return 0
	}

	if m := percentToken.FindStringSubmatch(progressText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 0 && n <= 100 {
			return n
		}
	}

	lower := strings.ToLower(progressText)
	for _, rule := range tun.Steps {
		if strings.Contains(lower, rule.Contains) {
			return rule.Percent
		}
	}
	return 15
}
