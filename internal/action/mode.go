package action

import (
	"context"

	"agentgate/internal/domain"
)

// ModeSetter switches the active safety mode. *security.Store implements it.
type ModeSetter interface {
	SetMode(mode domain.Mode) (domain.Mode, error)
}

// SetSafetyMode changes the gateway's safety mode in memory. The policy file
// is left untouched; a reload restores the mode it declares.
type SetSafetyMode struct {
	setter ModeSetter
}

func NewSetSafetyMode(s ModeSetter) *SetSafetyMode {
	return &SetSafetyMode{setter: s}
}

func (m *SetSafetyMode) Name() string { return "set_safety_mode" }

func (m *SetSafetyMode) Description() string {
	return "Switch the gateway safety mode (normal, fairplay, curious)."
}

func (m *SetSafetyMode) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"mode": {Type: "string", Description: "New safety mode", Enum: []string{
				string(domain.ModeNormal), string(domain.ModeFairplay), string(domain.ModeCurious),
			}},
		},
		[]string{"mode"},
	)
}

type modeParams struct {
	Mode string `json:"mode" validate:"required"`
}

func (m *SetSafetyMode) Invoke(ctx context.Context, params map[string]any) (any, error) {
	var p modeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	next := domain.ParseMode(p.Mode)
	prev, err := m.setter.SetMode(next)
	if err != nil {
		return nil, err
	}
	return map[string]any{"previous": prev, "mode": next}, nil
}
