package progress

import (
	"testing"

	"video-orchestrator/core/models"
	"video-orchestrator/core/tuning"
)

func TestPercentByStatus(t *testing.T) {
	tun := tuning.Default()

	cases := []struct {
		status models.JobStatus
		want   int
	}{
		{models.JobStatusPending, 5},
		{models.JobStatusQueued, 10},
		{models.JobStatusCompleted, 100},
		{models.JobStatusFailed, 0},
	}
	for _, tc := range cases {
		if got := Percent(tun, tc.status, "ignored"); got != tc.want {
			t.Errorf("Percent(%s) = %d, want %d", tc.status, got, tc.want)
		}
	}
}

func TestPercentExplicitTokenWins(t *testing.T) {
	tun := tuning.Default()

	if got := Percent(tun, models.JobStatusProcessing, "Rendering 42% done"); got != 42 {
		t.Errorf("Percent = %d, want 42", got)
	}
	// Token beats the ladder even when a keyword also matches.
	if got := Percent(tun, models.JobStatusProcessing, "lipsync at 73%"); got != 73 {
		t.Errorf("Percent = %d, want 73", got)
	}
	// Out-of-range tokens fall through to the ladder.
	if got := Percent(tun, models.JobStatusProcessing, "999% lipsync"); got != 65 {
		t.Errorf("Percent = %d, want ladder value 65", got)
	}
}

func TestPercentStepLadder(t *testing.T) {
	tun := tuning.Default()

	cases := []struct {
		text string
		want int
	}{
		{"Starting generation", 15},
		{"Script ready", 20},
		{"Audio generation in progress", 35},
		{"Audio generated for all segments", 50},
		{"Lipsync in progress", 65},
		{"Lipsync processing completed", 80},
		{"Compositing video", 85},
		{"Finalizing output", 95},
		{"something unrecognized", 15},
		{"", 15},
	}
	for _, tc := range cases {
		if got := Percent(tun, models.JobStatusProcessing, tc.text); got != tc.want {
			t.Errorf("Percent(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
