package spells

import (
	"context"
	"fmt"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/transport"
)

const (
	Accessible  = "accessible"
	Unreachable = "unreachable"
)

// Controller identifies the controller a pipeline is running against.
type Controller struct {
	UUID         string `json:"uuid" yaml:"uuid"`
	Name         string `json:"name" yaml:"name"`
	AgentVersion string `json:"agent_version,omitempty" yaml:"agent_version,omitempty"`
}

type getController struct{}

// GetController fetches controller identity. The {uuid, name} pair is cached.
func GetController() *command.Command {
	return command.NewReadWrite(getController{})
}

func (getController) Name() string { return "GetController" }

func (getController) Execute(ctx context.Context, args command.Arguments, _ []command.Result, _ any) (any, error) {
	var info transport.ControllerInfo
	if err := invoke(ctx, args, transport.OpControllerInfo, nil, &info); err != nil {
		return nil, err
	}
	return Controller{UUID: info.UUID, Name: info.Name, AgentVersion: info.AgentVersion}, nil
}

func (getController) Encode(output any) (map[string]any, error) {
	ctrl, ok := output.(Controller)
	if !ok {
		return nil, fmt.Errorf("%w: GetController output is %T", ErrInvalidParam, output)
	}
	return map[string]any{"uuid": ctrl.UUID, "name": ctrl.Name}, nil
}

func (getController) Decode(data map[string]any) (any, error) {
	uuid, _ := data["uuid"].(string)
	name, _ := data["name"].(string)
	if uuid == "" {
		return nil, fmt.Errorf("%w: cached controller has no uuid", ErrInvalidParam)
	}
	return Controller{UUID: uuid, Name: name}, nil
}

type controllerConnected struct{}

// ControllerConnected reports whether the controller answers at all. A
// failed connection is an "unreachable" result, never an error.
func ControllerConnected() *command.Command {
	return command.NewRead(controllerConnected{})
}

func (controllerConnected) Name() string { return "ControllerConnected" }

func (controllerConnected) Execute(ctx context.Context, args command.Arguments, _ []command.Result, _ any) (any, error) {
	if err := invoke(ctx, args, transport.OpControllerInfo, nil, nil); err != nil {
		return Unreachable, nil
	}
	return Accessible, nil
}
