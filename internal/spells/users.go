package spells

import (
	"context"
	"fmt"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/rs/zerolog/log"
)

// NewUser is the AddUser output. Password is the one now set for the user.
type NewUser struct {
	User        string        `json:"user" yaml:"user"`
	DisplayName string        `json:"display_name" yaml:"display_name"`
	Password    string        `json:"password" yaml:"password"`
	Created     bool          `json:"created" yaml:"created"`
	Access      *AccessChange `json:"access,omitempty" yaml:"access,omitempty"`
}

// UserChange reports an enable, disable or removal.
type UserChange struct {
	User       string        `json:"user" yaml:"user"`
	Controller string        `json:"controller" yaml:"controller"`
	Action     string        `json:"action" yaml:"action"`
	Applied    bool          `json:"applied" yaml:"applied"`
	Revoked    *AccessChange `json:"revoked,omitempty" yaml:"revoked,omitempty"`
}

type userInput struct {
	Controller  Controller `json:"controller" yaml:"controller"`
	User        string     `json:"user" yaml:"user"`
	DisplayName string     `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	ACL         string     `json:"acl,omitempty" yaml:"acl,omitempty"`
	password    string
}

func userPreProcess(args command.Arguments, prior []command.Result) (userInput, error) {
	ctrl, err := requireController(prior)
	if err != nil {
		return userInput{}, err
	}
	user, err := requireParam(args, ParamUser)
	if err != nil {
		return userInput{}, err
	}
	return userInput{Controller: ctrl, User: user}, nil
}

type addUser struct{}

// AddUser creates a user, enables it and optionally grants access. Without
// overwrite an existing user is an error; with overwrite its password is reset.
func AddUser() *command.Command {
	return command.NewWrite(addUser{})
}

func (addUser) Name() string { return "AddUser" }

func (addUser) PreProcess(args command.Arguments, prior []command.Result) (any, error) {
	in, err := userPreProcess(args, prior)
	if err != nil {
		return nil, err
	}
	in.DisplayName = args.Param(ParamDisplayName)
	in.ACL = args.Param(ParamACL)
	if in.ACL != "" && !ValidACL(in.ACL) {
		return nil, fmt.Errorf("%w: acl %q", ErrInvalidParam, in.ACL)
	}
	in.password = args.Param(ParamPassword)
	if in.password == "" {
		if in.password, err = RandomPassword(); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func (addUser) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	in := input.(userInput)
	existing, err := findUser(ctx, args, in.User)
	if err != nil {
		return nil, err
	}

	out := NewUser{User: in.User, DisplayName: in.DisplayName, Password: in.password}
	switch {
	case existing == nil:
		err := invoke(ctx, args, transport.OpAddUser, map[string]any{
			transport.ParamUser:        in.User,
			transport.ParamDisplayName: in.DisplayName,
			transport.ParamPassword:    in.password,
		}, nil)
		if err != nil {
			return nil, err
		}
		out.Created = true
		log.Info().Str("controller", in.Controller.UUID).Str("user", in.User).Msg("spells.AddUser created")
	case !args.Overwrite:
		return nil, fmt.Errorf("%w: %s", ErrUserExists, in.User)
	default:
		if out.DisplayName == "" {
			out.DisplayName = existing.DisplayName
		}
	}

	if args.Overwrite {
		err := invoke(ctx, args, transport.OpSetPassword, map[string]any{
			transport.ParamUser:     in.User,
			transport.ParamPassword: in.password,
		}, nil)
		if err != nil {
			return nil, err
		}
		log.Info().Str("controller", in.Controller.UUID).Str("user", in.User).Msg("spells.AddUser password reset")
	}

	if _, err := setEnabled(ctx, args, in.User, true); err != nil {
		return nil, err
	}
	if in.ACL != "" {
		access, err := grantAccess(ctx, args, in.Controller, in.User, in.ACL)
		if err != nil && !tolerated(args, err) {
			return nil, err
		}
		out.Access = &access
	}
	return out, nil
}

func findUser(ctx context.Context, args command.Arguments, name string) (*transport.UserInfo, error) {
	var reply transport.UsersReply
	if err := invoke(ctx, args, transport.OpListUsers, nil, &reply); err != nil {
		return nil, err
	}
	for i := range reply.Users {
		if reply.Users[i].Username == name {
			return &reply.Users[i], nil
		}
	}
	return nil, nil
}

// setEnabled reports whether the change was applied; under overwrite a
// failure is logged and reported as not applied.
func setEnabled(ctx context.Context, args command.Arguments, user string, enable bool) (bool, error) {
	op := transport.OpDisableUser
	if enable {
		op = transport.OpEnableUser
	}
	err := invoke(ctx, args, op, map[string]any{transport.ParamUser: user}, nil)
	if err == nil {
		return true, nil
	}
	if tolerated(args, err) {
		log.Warn().Err(err).Str("user", user).Str("op", op).Msg("spells.setEnabled ignored")
		return false, nil
	}
	return false, err
}

type enableUser struct {
	enable bool
}

func EnableUser() *command.Command {
	return command.NewWrite(enableUser{enable: true})
}

func DisableUser() *command.Command {
	return command.NewWrite(enableUser{enable: false})
}

func (c enableUser) Name() string {
	if c.enable {
		return "EnableUser"
	}
	return "DisableUser"
}

func (enableUser) PreProcess(args command.Arguments, prior []command.Result) (any, error) {
	return userPreProcess(args, prior)
}

func (c enableUser) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	in := input.(userInput)
	applied, err := setEnabled(ctx, args, in.User, c.enable)
	if err != nil {
		return nil, err
	}
	action := "disable"
	if c.enable {
		action = "enable"
	}
	return UserChange{User: in.User, Controller: in.Controller.UUID, Action: action, Applied: applied}, nil
}

type removeUser struct{}

// RemoveUser revokes controller login and model read on every selected model,
// then disables the user. With the purge parameter the user is also deleted.
func RemoveUser() *command.Command {
	return command.NewWrite(removeUser{})
}

func (removeUser) Name() string { return "RemoveUser" }

func (removeUser) PreProcess(args command.Arguments, prior []command.Result) (any, error) {
	return userPreProcess(args, prior)
}

func (removeUser) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	in := input.(userInput)
	if _, err := revokeController(ctx, args, in.Controller, in.User, "login"); err != nil {
		return nil, err
	}
	revoked, err := revokeModels(ctx, args, in.Controller, in.User, "read")
	if err != nil {
		return nil, err
	}
	if _, err := setEnabled(ctx, args, in.User, false); err != nil {
		return nil, err
	}
	out := UserChange{User: in.User, Controller: in.Controller.UUID, Action: "disable", Applied: true, Revoked: &revoked}
	if args.ParamBool(ParamPurge, false) {
		if err := invoke(ctx, args, transport.OpRemoveUser, map[string]any{transport.ParamUser: in.User}, nil); err != nil {
			return nil, err
		}
		out.Action = "remove"
	}
	log.Info().Str("controller", in.Controller.UUID).Str("user", in.User).Str("action", out.Action).Msg("spells.RemoveUser")
	return out, nil
}
