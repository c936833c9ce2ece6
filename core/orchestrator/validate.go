package orchestrator

import (
	"fmt"
	"strings"

	"video-orchestrator/core/models"
	"video-orchestrator/core/tuning"
)

// ValidateInput checks a submission before any side effect. A returned
// *models.ValidationError means no credits were touched and no external
// call was made.
func ValidateInput(input models.SubmitInput, tun *tuning.Tuning) error {
	if input.DurationSeconds != 30 && input.DurationSeconds != 60 {
		return &models.ValidationError{Field: "durationSeconds", Msg: "must be 30 or 60"}
	}
	if strings.TrimSpace(input.SelectedHost) == "" {
		return &models.ValidationError{Field: "selectedHost", Msg: "a host character must be selected"}
	}

	switch input.Mode {
	case models.ModeSingle:
		if strings.TrimSpace(input.SingleCharacterText) == "" {
			return &models.ValidationError{Field: "singleCharacterText", Msg: "script text is required"}
		}
		budget := tun.BudgetFor(input.DurationSeconds)
		if n := len([]rune(input.SingleCharacterText)); n > budget {
			return &models.ValidationError{
				Field: "singleCharacterText",
				Msg:   fmt.Sprintf("%d characters exceeds the %d character limit", n, budget),
			}
		}

	case models.ModeHostGuestHost:
		if strings.TrimSpace(input.SelectedGuest) == "" {
			return &models.ValidationError{Field: "selectedGuest", Msg: "a guest character must be selected"}
		}
		intro, guest, outro := tun.SegmentBudgets(input.DurationSeconds)
		segments := []struct {
			field  string
			text   string
			budget int
		}{
			{"host1Text", input.Host1Text, intro},
			{"guest1Text", input.Guest1Text, guest},
			{"host2Text", input.Host2Text, outro},
		}
		for _, seg := range segments {
			if strings.TrimSpace(seg.text) == "" {
				return &models.ValidationError{Field: seg.field, Msg: "script text is required"}
			}
			if n := len([]rune(seg.text)); n > seg.budget {
				return &models.ValidationError{
					Field: seg.field,
					Msg:   fmt.Sprintf("%d characters exceeds the %d character limit", n, seg.budget),
				}
			}
		}

	default:
		return &models.ValidationError{Field: "mode", Msg: fmt.Sprintf("unknown mode %q", input.Mode)}
	}

	return nil
}
