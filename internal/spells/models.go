package spells

import (
	"context"
	"fmt"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/rs/zerolog/log"
)

// ModelList is the set of model names on a controller. Refresh is true when
// the list came from the controller rather than the cache.
type ModelList struct {
	Models  []string          `json:"models" yaml:"models"`
	UUIDs   map[string]string `json:"uuids,omitempty" yaml:"uuids,omitempty"`
	Refresh bool              `json:"refresh" yaml:"refresh"`
}

type listModels struct{}

func ListModels() *command.Command {
	return command.NewRead(listModels{})
}

func (listModels) Name() string { return "ListModels" }

func (listModels) PreProcess(_ command.Arguments, prior []command.Result) (any, error) {
	return requireController(prior)
}

func (listModels) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	var reply transport.ModelsReply
	if err := invoke(ctx, args, transport.OpListModels, nil, &reply); err != nil {
		return nil, err
	}
	out := ModelList{Models: make([]string, 0, len(reply.Models)), UUIDs: make(map[string]string, len(reply.Models)), Refresh: true}
	for _, m := range reply.Models {
		out.Models = append(out.Models, m.Name)
		out.UUIDs[m.Name] = m.UUID
	}
	if ctrl, ok := input.(Controller); ok {
		log.Debug().Str("controller", ctrl.UUID).Strs("models", out.Models).Msg("spells.ListModels")
	}
	return out, nil
}

func (listModels) Encode(output any) (map[string]any, error) {
	list, ok := output.(ModelList)
	if !ok {
		return nil, fmt.Errorf("%w: ListModels output is %T", ErrInvalidParam, output)
	}
	models := make([]any, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m)
	}
	uuids := make(map[string]any, len(list.UUIDs))
	for k, v := range list.UUIDs {
		uuids[k] = v
	}
	return map[string]any{"models": models, "uuids": uuids}, nil
}

func (listModels) Decode(data map[string]any) (any, error) {
	raw, ok := data["models"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: cached model list has no models", ErrInvalidParam)
	}
	out := ModelList{Models: make([]string, 0, len(raw)), UUIDs: map[string]string{}}
	for _, item := range raw {
		if name, ok := item.(string); ok {
			out.Models = append(out.Models, name)
		}
	}
	if uuids, ok := data["uuids"].(map[string]any); ok {
		for k, v := range uuids {
			if s, ok := v.(string); ok {
				out.UUIDs[k] = s
			}
		}
	}
	return out, nil
}

// UserList is the controller's user table.
type UserList struct {
	Users []transport.UserInfo `json:"users" yaml:"users"`
}

type listUsers struct{}

func ListUsers() *command.Command {
	return command.NewRead(listUsers{})
}

func (listUsers) Name() string { return "ListUsers" }

func (listUsers) PreProcess(_ command.Arguments, prior []command.Result) (any, error) {
	return requireController(prior)
}

func (listUsers) Execute(ctx context.Context, args command.Arguments, _ []command.Result, _ any) (any, error) {
	var reply transport.UsersReply
	if err := invoke(ctx, args, transport.OpListUsers, nil, &reply); err != nil {
		return nil, err
	}
	return UserList{Users: reply.Users}, nil
}

type getModelStatus struct{}

// GetModelStatus fetches the full status of each selected model listed by
// an earlier ListModels step.
func GetModelStatus() *command.Command {
	return command.NewRead(getModelStatus{})
}

func (getModelStatus) Name() string { return "GetModelStatus" }

func (getModelStatus) PreProcess(args command.Arguments, prior []command.Result) (any, error) {
	if last, ok := command.Last(prior); ok && !last.Success {
		return nil, last.Err
	}
	list, ok := command.Find[ModelList](prior)
	if !ok {
		return nil, ErrMissingModels
	}
	all := make([]transport.ModelInfo, 0, len(list.Models))
	for _, name := range list.Models {
		all = append(all, transport.ModelInfo{Name: name, UUID: list.UUIDs[name]})
	}
	return selectModels(all, args), nil
}

func (getModelStatus) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	models, _ := input.([]transport.ModelInfo)
	out := make(map[string]any, len(models))
	for _, m := range models {
		var status map[string]any
		if err := invoke(ctx, args, transport.OpModelStatus, modelParams(m, nil), &status); err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Name, err)
		}
		out[m.Name] = status
	}
	return out, nil
}
