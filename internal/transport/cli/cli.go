// Package cli drives controllers through the juju client binary, either on
// this host or on a jump host reached over ssh.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/rs/zerolog/log"
)

const DefaultBinary = "juju"

var ErrMissingParam = errors.New("cli: missing parameter")

type Connector struct {
	binary    string
	newRunner func(tgt target.Target) Runner
}

type Option func(*Connector)

func WithBinary(path string) Option {
	return func(c *Connector) {
		if strings.TrimSpace(path) != "" {
			c.binary = path
		}
	}
}

// WithRunner makes every session use r regardless of the target ssh block.
func WithRunner(r Runner) Option {
	return func(c *Connector) {
		c.newRunner = func(target.Target) Runner { return r }
	}
}

func NewConnector(opts ...Option) *Connector {
	c := &Connector{binary: DefaultBinary, newRunner: defaultRunner}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultRunner(tgt target.Target) Runner {
	if tgt.SSH != nil && strings.TrimSpace(tgt.SSH.Host) != "" {
		return SSHRunnerFor(*tgt.SSH)
	}
	return LocalRunner{}
}

var _ transport.Connector = (*Connector)(nil)

// Connect is cheap: the cli transport holds no connection between calls.
func (c *Connector) Connect(ctx context.Context, tgt target.Target) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(tgt.Name) == "" {
		return nil, fmt.Errorf("%w: controller name is required for the cli transport", target.ErrInvalidTarget)
	}
	return &Session{binary: c.binary, runner: c.newRunner(tgt), tgt: tgt}, nil
}

type Session struct {
	binary string
	runner Runner
	tgt    target.Target
}

var _ transport.Session = (*Session)(nil)

func (s *Session) Invoke(ctx context.Context, op string, params map[string]any) (json.RawMessage, error) {
	cmd, err := BuildCommand(s.binary, s.tgt.Name, op, params)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("target", s.tgt.Identity()).Str("cmd", redact(cmd)).Msg("cli.Session.Invoke")
	out, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("cli: %s on %s: %w", op, s.tgt.Identity(), err)
	}
	if out.ExitCode != 0 {
		msg := strings.TrimSpace(string(out.Stderr))
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", out.ExitCode)
		}
		return nil, &transport.RemoteError{Op: op, Code: classify(msg), Message: msg}
	}
	stdout := strings.TrimSpace(string(out.Stdout))
	if stdout == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(stdout)) {
		return nil, fmt.Errorf("%w: %s: output is not json", transport.ErrMalformedResponse, op)
	}
	return normalize(op, s.tgt.Name, []byte(stdout))
}

func (s *Session) Close() error {
	return nil
}

// BuildCommand maps an operation to a juju client invocation.
func BuildCommand(binary, controller, op string, params map[string]any) (Command, error) {
	user := stringParam(params, transport.ParamUser)
	model := stringParam(params, transport.ParamModel)
	scoped := controller + ":" + model
	var args []string
	var stdin []byte

	switch op {
	case transport.OpControllerInfo:
		args = []string{"show-controller", controller, "--format=json"}
	case transport.OpListModels:
		args = []string{"models", "-c", controller, "--format=json"}
	case transport.OpModelStatus:
		if model == "" {
			return Command{}, missing(op, transport.ParamModel)
		}
		args = []string{"status", "-m", scoped, "--format=json"}
	case transport.OpListUsers:
		args = []string{"users", "-c", controller, "--format=json"}
	case transport.OpAddUser:
		if user == "" {
			return Command{}, missing(op, transport.ParamUser)
		}
		args = []string{"add-user", "-c", controller, user}
		if display := stringParam(params, transport.ParamDisplayName); display != "" {
			args = append(args, display)
		}
	case transport.OpEnableUser, transport.OpDisableUser, transport.OpRemoveUser:
		if user == "" {
			return Command{}, missing(op, transport.ParamUser)
		}
		verb := map[string]string{
			transport.OpEnableUser:  "enable-user",
			transport.OpDisableUser: "disable-user",
			transport.OpRemoveUser:  "remove-user",
		}[op]
		args = []string{verb, "-c", controller, user}
		if op == transport.OpRemoveUser {
			args = append(args, "--yes")
		}
	case transport.OpSetPassword:
		password := stringParam(params, transport.ParamPassword)
		if user == "" || password == "" {
			return Command{}, missing(op, transport.ParamUser+"/"+transport.ParamPassword)
		}
		args = []string{"change-user-password", "-c", controller, user, "--no-prompt"}
		stdin = []byte(password + "\n")
	case transport.OpGrantController, transport.OpRevokeController:
		access := stringParam(params, transport.ParamAccess)
		if user == "" || access == "" {
			return Command{}, missing(op, transport.ParamUser+"/"+transport.ParamAccess)
		}
		args = []string{verbFor(op), "-c", controller, user, access}
	case transport.OpGrantModel, transport.OpRevokeModel:
		access := stringParam(params, transport.ParamAccess)
		models := stringsParam(params, transport.ParamModels)
		if user == "" || access == "" || len(models) == 0 {
			return Command{}, missing(op, transport.ParamUser+"/"+transport.ParamAccess+"/"+transport.ParamModels)
		}
		args = append([]string{verbFor(op), "-c", controller, user, access}, models...)
	case transport.OpGetAppConfig:
		app := stringParam(params, transport.ParamApplication)
		if model == "" || app == "" {
			return Command{}, missing(op, transport.ParamModel+"/"+transport.ParamApplication)
		}
		args = []string{"config", "-m", scoped, app, "--format=json"}
	case transport.OpSetAppConfig:
		app := stringParam(params, transport.ParamApplication)
		settings, _ := params[transport.ParamSettings].(map[string]any)
		if model == "" || app == "" || len(settings) == 0 {
			return Command{}, missing(op, transport.ParamModel+"/"+transport.ParamApplication+"/"+transport.ParamSettings)
		}
		args = append([]string{"config", "-m", scoped, app}, settingArgs(settings)...)
	default:
		return Command{}, fmt.Errorf("%w: %s", transport.ErrUnsupportedOp, op)
	}
	return Command{Name: binary, Args: args, Stdin: stdin}, nil
}

func verbFor(op string) string {
	switch op {
	case transport.OpGrantController, transport.OpGrantModel:
		return "grant"
	default:
		return "revoke"
	}
}

func settingArgs(settings map[string]any) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%v", k, settings[k]))
	}
	return out
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}

func stringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func missing(op, what string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMissingParam, op, what)
}

func classify(stderr string) string {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "already exists"), strings.Contains(lower, "already has"):
		return transport.CodeAlreadyExists
	case strings.Contains(lower, "not found"), strings.Contains(lower, "does not exist"):
		return transport.CodeNotFound
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "unauthorized"):
		return transport.CodeUnauthorized
	default:
		return ""
	}
}

func redact(cmd Command) string {
	if cmd.Stdin != nil {
		return cmd.String() + " <stdin redacted>"
	}
	return cmd.String()
}
