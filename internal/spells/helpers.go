package spells

import (
	"context"
	"fmt"
	"slices"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/rs/zerolog/log"
)

// requireController returns the controller identity an earlier step produced.
// A failed last step is reported as-is so the cause surfaces unchanged.
func requireController(prior []command.Result) (Controller, error) {
	if last, ok := command.Last(prior); ok && !last.Success {
		return Controller{}, last.Err
	}
	ctrl, ok := command.Find[Controller](prior)
	if !ok {
		return Controller{}, ErrMissingController
	}
	return ctrl, nil
}

func invoke(ctx context.Context, args command.Arguments, op string, params map[string]any, out any) error {
	session, err := args.Connect(ctx)
	if err != nil {
		return err
	}
	raw, err := session.Invoke(ctx, op, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return transport.Decode(op, raw, out)
}

// filteredModels lists the controller's models and keeps those selected by
// args.Models after alias expansion. No selection keeps every model.
func filteredModels(ctx context.Context, args command.Arguments) ([]transport.ModelInfo, error) {
	var reply transport.ModelsReply
	if err := invoke(ctx, args, transport.OpListModels, nil, &reply); err != nil {
		return nil, err
	}
	return selectModels(reply.Models, args), nil
}

func selectModels(all []transport.ModelInfo, args command.Arguments) []transport.ModelInfo {
	if len(args.Models) == 0 {
		return all
	}
	wanted := args.Target.ResolveModels(args.Models)
	out := make([]transport.ModelInfo, 0, len(wanted))
	for _, name := range wanted {
		idx := slices.IndexFunc(all, func(m transport.ModelInfo) bool { return m.Name == name })
		if idx < 0 {
			log.Warn().Str("target", args.Target.Identity()).Str("model", name).Msg("spells.selectModels unknown model")
			continue
		}
		out = append(out, all[idx])
	}
	return out
}

func modelParams(m transport.ModelInfo, extra map[string]any) map[string]any {
	params := map[string]any{
		transport.ParamModel:     m.Name,
		transport.ParamModelUUID: m.UUID,
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

// tolerated reports whether a best-effort step error may be ignored.
func tolerated(args command.Arguments, err error) bool {
	return args.Overwrite && err != nil
}

// alreadyApplied reports whether err only says the change is already in place
// and overwrite allows treating that as success.
func alreadyApplied(args command.Arguments, err error) bool {
	return args.Overwrite && transport.IsCode(err, transport.CodeAlreadyExists)
}

func requireParam(args command.Arguments, key string) (string, error) {
	v := args.Param(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	return v, nil
}
