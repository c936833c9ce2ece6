package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds product-tuned constants: the credit cost table, script
// character budgets with their segment split, and the progress-text step
// ladder. The numbers carry no derivation; they are configuration, not
// invariants, and may be overridden from a YAML file.
type Tuning struct {
	Credits CreditTable  `yaml:"credits"`
	Script  ScriptLimits `yaml:"script"`
	Steps   []StepRule   `yaml:"progress_steps"`
}

// CreditTable maps video duration to credit cost
type CreditTable struct {
	Cost30s        int `yaml:"cost_30s"`
	Cost60s        int `yaml:"cost_60s"`
	CreditsPerPack int `yaml:"credits_per_pack"`
}

// ScriptLimits bounds script length per duration, with the segment split
// applied in host/guest/host mode
type ScriptLimits struct {
	Budget30s      int     `yaml:"budget_30s"`
	Budget60s      int     `yaml:"budget_60s"`
	HostIntroShare float64 `yaml:"host_intro_share"`
	GuestShare     float64 `yaml:"guest_share"`
	HostOutroShare float64 `yaml:"host_outro_share"`
}

// StepRule maps a progress-text substring to a display percentage.
// Rules are evaluated top to bottom; more specific entries must come
// before generic ones.
type StepRule struct {
	Contains string `yaml:"contains"`
	Percent  int    `yaml:"percent"`
}

// Default returns the built-in constants.
func Default() *Tuning {
	return &Tuning{
		Credits: CreditTable{
			Cost30s:        10,
			Cost60s:        20,
			CreditsPerPack: 50,
		},
		Script: ScriptLimits{
			Budget30s:      550,
			Budget60s:      1100,
			HostIntroShare: 0.30,
			GuestShare:     0.40,
			HostOutroShare: 0.30,
		},
		Steps: []StepRule{
			{Contains: "finaliz", Percent: 95},
			{Contains: "composit", Percent: 85},
			{Contains: "lipsync processing completed", Percent: 80},
			{Contains: "lipsync", Percent: 65},
			{Contains: "audio generated", Percent: 50},
			{Contains: "audio", Percent: 35},
			{Contains: "script", Percent: 20},
			{Contains: "start", Percent: 15},
		},
	}
}

// Load reads a tuning file, falling back to defaults for absent values.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Tuning, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read tuning file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return t, nil
}

func (t *Tuning) validate() error {
	if t.Credits.Cost30s <= 0 || t.Credits.Cost60s <= 0 {
		return fmt.Errorf("credit costs must be positive")
	}
	if t.Script.Budget30s <= 0 || t.Script.Budget60s <= 0 {
		return fmt.Errorf("script budgets must be positive")
	}
	total := t.Script.HostIntroShare + t.Script.GuestShare + t.Script.HostOutroShare
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("segment shares must sum to 1.0, got %.2f", total)
	}
	return nil
}

// CostFor returns the credit cost for a duration.
func (t *Tuning) CostFor(durationSeconds int) (int, error) {
	switch durationSeconds {
	case 30:
		return t.Credits.Cost30s, nil
	case 60:
		return t.Credits.Cost60s, nil
	default:
		return 0, fmt.Errorf("unsupported duration %ds", durationSeconds)
	}
}

// BudgetFor returns the total script character budget for a duration.
func (t *Tuning) BudgetFor(durationSeconds int) int {
	if durationSeconds == 60 {
		return t.Script.Budget60s
	}
	return t.Script.Budget30s
}

// SegmentBudgets splits the total budget across intro, guest and outro.
func (t *Tuning) SegmentBudgets(durationSeconds int) (intro, guest, outro int) {
	total := float64(t.BudgetFor(durationSeconds))
	intro = int(total * t.Script.HostIntroShare)
	guest = int(total * t.Script.GuestShare)
	outro = int(total * t.Script.HostOutroShare)
	return intro, guest, outro
}
