package spells

import (
	"context"
	"fmt"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/rs/zerolog/log"
)

// AccessChange reports what a grant or revoke applied on one controller.
type AccessChange struct {
	User          string   `json:"user" yaml:"user"`
	Controller    string   `json:"controller" yaml:"controller"`
	ControllerACL string   `json:"controller_acl,omitempty" yaml:"controller_acl,omitempty"`
	ModelACL      string   `json:"model_acl,omitempty" yaml:"model_acl,omitempty"`
	Models        []string `json:"models,omitempty" yaml:"models,omitempty"`
	Skipped       []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

type accessInput struct {
	Controller Controller `json:"controller" yaml:"controller"`
	User       string     `json:"user" yaml:"user"`
	ACL        string     `json:"acl" yaml:"acl"`
}

func accessPreProcess(args command.Arguments, prior []command.Result, defaultACL string) (any, error) {
	ctrl, err := requireController(prior)
	if err != nil {
		return nil, err
	}
	user, err := requireParam(args, ParamUser)
	if err != nil {
		return nil, err
	}
	acl := args.Param(ParamACL)
	if acl == "" {
		acl = defaultACL
	}
	return accessInput{Controller: ctrl, User: user, ACL: acl}, nil
}

type grant struct{}

// Grant gives a user controller access and matching access on every
// selected model.
func Grant() *command.Command {
	return command.NewWrite(grant{})
}

func (grant) Name() string { return "Grant" }

func (grant) PreProcess(args command.Arguments, prior []command.Result) (any, error) {
	in, err := accessPreProcess(args, prior, "")
	if err != nil {
		return nil, err
	}
	if in.(accessInput).ACL == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingParam, ParamACL)
	}
	return in, nil
}

func (grant) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	in := input.(accessInput)
	return grantAccess(ctx, args, in.Controller, in.User, in.ACL)
}

func grantAccess(ctx context.Context, args command.Arguments, ctrl Controller, user, acl string) (AccessChange, error) {
	out := AccessChange{
		User:          user,
		Controller:    ctrl.UUID,
		ControllerACL: ControllerACL(acl),
		ModelACL:      ModelACL(acl),
	}
	log.Info().Str("controller", ctrl.UUID).Str("user", user).Str("acl", out.ControllerACL).Msg("spells.Grant controller")
	err := invoke(ctx, args, transport.OpGrantController, map[string]any{
		transport.ParamUser:   user,
		transport.ParamAccess: out.ControllerACL,
	}, nil)
	if err != nil && !alreadyApplied(args, err) {
		return AccessChange{}, err
	}

	models, err := filteredModels(ctx, args)
	if err != nil {
		return AccessChange{}, err
	}
	for _, m := range models {
		err := invoke(ctx, args, transport.OpGrantModel, modelParams(m, map[string]any{
			transport.ParamUser:   user,
			transport.ParamAccess: out.ModelACL,
			transport.ParamModels: []string{m.Name},
		}), nil)
		switch {
		case err == nil:
			out.Models = append(out.Models, m.Name)
		case tolerated(args, err):
			log.Warn().Err(err).Str("model", m.Name).Msg("spells.Grant model skipped")
			out.Skipped = append(out.Skipped, m.Name)
		default:
			return AccessChange{}, err
		}
	}
	return out, nil
}

type revoke struct{}

// Revoke removes controller access. The level defaults to login.
func Revoke() *command.Command {
	return command.NewWrite(revoke{})
}

func (revoke) Name() string { return "Revoke" }

func (revoke) PreProcess(args command.Arguments, prior []command.Result) (any, error) {
	return accessPreProcess(args, prior, "login")
}

func (revoke) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	in := input.(accessInput)
	return revokeController(ctx, args, in.Controller, in.User, in.ACL)
}

func revokeController(ctx context.Context, args command.Arguments, ctrl Controller, user, acl string) (AccessChange, error) {
	out := AccessChange{User: user, Controller: ctrl.UUID, ControllerACL: ControllerACL(acl)}
	log.Info().Str("controller", ctrl.UUID).Str("user", user).Str("acl", out.ControllerACL).Msg("spells.Revoke controller")
	err := invoke(ctx, args, transport.OpRevokeController, map[string]any{
		transport.ParamUser:   user,
		transport.ParamAccess: out.ControllerACL,
	}, nil)
	if err != nil {
		return AccessChange{}, err
	}
	return out, nil
}

type revokeModel struct{}

// RevokeModel removes model access on every selected model. The level
// defaults to read.
func RevokeModel() *command.Command {
	return command.NewWrite(revokeModel{})
}

func (revokeModel) Name() string { return "RevokeModel" }

func (revokeModel) PreProcess(args command.Arguments, prior []command.Result) (any, error) {
	return accessPreProcess(args, prior, "read")
}

func (revokeModel) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	in := input.(accessInput)
	return revokeModels(ctx, args, in.Controller, in.User, in.ACL)
}

func revokeModels(ctx context.Context, args command.Arguments, ctrl Controller, user, acl string) (AccessChange, error) {
	out := AccessChange{User: user, Controller: ctrl.UUID, ModelACL: ModelACL(acl)}
	models, err := filteredModels(ctx, args)
	if err != nil {
		return AccessChange{}, err
	}
	for _, m := range models {
		err := invoke(ctx, args, transport.OpRevokeModel, modelParams(m, map[string]any{
			transport.ParamUser:   user,
			transport.ParamAccess: out.ModelACL,
			transport.ParamModels: []string{m.Name},
		}), nil)
		switch {
		case err == nil:
			out.Models = append(out.Models, m.Name)
		case tolerated(args, err):
			log.Warn().Err(err).Str("model", m.Name).Msg("spells.RevokeModel skipped")
			out.Skipped = append(out.Skipped, m.Name)
		default:
			return AccessChange{}, err
		}
	}
	return out, nil
}
