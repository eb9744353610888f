package spells

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// AppConfig is one application's desired settings.
type AppConfig struct {
	Application string         `toml:"application" json:"application" yaml:"application"`
	Config      map[string]any `toml:"config" json:"config" yaml:"config"`
}

type appConfigFile struct {
	Applications []AppConfig `toml:"applications"`
}

// LoadApplicationConfigs reads a file of [[applications]] tables.
func LoadApplicationConfigs(path string) ([]AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("app config load failed (%s): %w", path, err)
	}
	var file appConfigFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse failed (%s): %v", ErrInvalidAppConfig, path, err)
	}
	if len(file.Applications) == 0 {
		return nil, fmt.Errorf("%w: %s defines no applications", ErrInvalidAppConfig, path)
	}
	for i, app := range file.Applications {
		if strings.TrimSpace(app.Application) == "" {
			return nil, fmt.Errorf("%w: applications[%d] has no name", ErrInvalidAppConfig, i)
		}
		if len(app.Config) == 0 {
			return nil, fmt.Errorf("%w: %s has no config", ErrInvalidAppConfig, app.Application)
		}
	}
	return file.Applications, nil
}

type appConfigInput struct {
	Controller Controller     `json:"controller" yaml:"controller"`
	App        string         `json:"app,omitempty" yaml:"app,omitempty"`
	Get        string         `json:"get,omitempty" yaml:"get,omitempty"`
	Set        map[string]any `json:"set,omitempty" yaml:"set,omitempty"`
	Updates    []AppConfig    `json:"updates,omitempty" yaml:"updates,omitempty"`
}

type applicationConfig struct{}

// ApplicationConfig reads or changes application settings on every selected
// model. The output maps model to application to settings.
func ApplicationConfig() *command.Command {
	return command.NewWrite(applicationConfig{})
}

func (applicationConfig) Name() string { return "ApplicationConfig" }

func (applicationConfig) PreProcess(args command.Arguments, prior []command.Result) (any, error) {
	ctrl, err := requireController(prior)
	if err != nil {
		return nil, err
	}
	in := appConfigInput{Controller: ctrl, App: args.Param(ParamApp), Get: args.Param(ParamGet)}
	if in.Set, err = ParseSettings(args.Param(ParamSet)); err != nil {
		return nil, err
	}
	if in.App != "" {
		return in, nil
	}
	path := args.Param(ParamFile)
	if path == "" {
		return nil, fmt.Errorf("%w: %s or %s", ErrMissingParam, ParamApp, ParamFile)
	}
	if in.Updates, err = LoadApplicationConfigs(path); err != nil {
		return nil, err
	}
	return in, nil
}

func (applicationConfig) Execute(ctx context.Context, args command.Arguments, _ []command.Result, input any) (any, error) {
	in := input.(appConfigInput)
	models, err := filteredModels(ctx, args)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(models))
	for _, m := range models {
		config := make(map[string]any)
		if in.App != "" {
			settings, found, err := applyConfig(ctx, args, m, in.App, in.Set, in.Get)
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", m.Name, err)
			}
			if found {
				config[in.App] = settings
			}
		} else {
			for _, update := range in.Updates {
				settings, found, err := applyConfig(ctx, args, m, update.Application, update.Config, "")
				if err != nil {
					return nil, fmt.Errorf("model %s: %w", m.Name, err)
				}
				if found {
					config[update.Application] = settings
				}
			}
		}
		log.Info().Str("controller", in.Controller.UUID).Str("model", m.Name).Strs("applications", sortedKeys(config)).Msg("spells.ApplicationConfig")
		out[m.Name] = config
	}
	return out, nil
}

// applyConfig sets then reads back one application's settings. An
// application missing from the model is reported as not found.
func applyConfig(ctx context.Context, args command.Arguments, m transport.ModelInfo, app string, set map[string]any, get string) (map[string]any, bool, error) {
	if len(set) > 0 {
		err := invoke(ctx, args, transport.OpSetAppConfig, modelParams(m, map[string]any{
			transport.ParamApplication: app,
			transport.ParamSettings:    set,
		}), nil)
		if transport.IsCode(err, transport.CodeNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
	}
	var reply transport.AppConfigReply
	err := invoke(ctx, args, transport.OpGetAppConfig, modelParams(m, map[string]any{
		transport.ParamApplication: app,
	}), &reply)
	if transport.IsCode(err, transport.CodeNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if reply.Settings == nil {
		reply.Settings = map[string]any{}
	}
	if get == "" {
		return reply.Settings, true, nil
	}
	value, ok := reply.Settings[get]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s has no setting %q", ErrInvalidParam, app, get)
	}
	return map[string]any{get: value}, true, nil
}
