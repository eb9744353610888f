package spells

import "errors"

var (
	ErrMissingController = errors.New("spells: no controller in prior results")
	ErrMissingModels     = errors.New("spells: no model list in prior results")
	ErrMissingParam      = errors.New("spells: missing parameter")
	ErrInvalidParam      = errors.New("spells: invalid parameter")
	ErrInvalidAppConfig  = errors.New("spells: invalid application config")
	ErrUserExists        = errors.New("spells: user already exists")
	ErrUnknownSpell      = errors.New("spells: unknown spell")
	ErrSpellExists       = errors.New("spells: spell already registered")
	ErrInvalidSpell      = errors.New("spells: invalid spell")
)
