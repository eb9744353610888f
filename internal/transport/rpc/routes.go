package rpc

import "github.com/danmuck/spellctl/internal/transport"

// ParamModelUUID selects the model connection for model-scoped operations.
const ParamModelUUID = transport.ParamModelUUID

type route struct {
	facade      string
	version     int
	request     string
	modelScoped bool
	extra       map[string]any
}

var routes = map[string]route{
	transport.OpControllerInfo:   {facade: "Controller", version: 11, request: "ControllerInfo"},
	transport.OpListModels:       {facade: "Controller", version: 11, request: "AllModels"},
	transport.OpModelStatus:      {facade: "Client", version: 6, request: "FullStatus", modelScoped: true},
	transport.OpListUsers:        {facade: "UserManager", version: 3, request: "UserInfo"},
	transport.OpAddUser:          {facade: "UserManager", version: 3, request: "AddUser"},
	transport.OpEnableUser:       {facade: "UserManager", version: 3, request: "EnableUser"},
	transport.OpDisableUser:      {facade: "UserManager", version: 3, request: "DisableUser"},
	transport.OpRemoveUser:       {facade: "UserManager", version: 3, request: "RemoveUser"},
	transport.OpSetPassword:      {facade: "UserManager", version: 3, request: "SetPassword"},
	transport.OpGrantController:  {facade: "Controller", version: 11, request: "ModifyControllerAccess", extra: map[string]any{"action": "grant"}},
	transport.OpRevokeController: {facade: "Controller", version: 11, request: "ModifyControllerAccess", extra: map[string]any{"action": "revoke"}},
	transport.OpGrantModel:       {facade: "ModelManager", version: 9, request: "ModifyModelAccess", extra: map[string]any{"action": "grant"}},
	transport.OpRevokeModel:      {facade: "ModelManager", version: 9, request: "ModifyModelAccess", extra: map[string]any{"action": "revoke"}},
	transport.OpGetAppConfig:     {facade: "Application", version: 19, request: "CharmConfig", modelScoped: true},
	transport.OpSetAppConfig:     {facade: "Application", version: 19, request: "SetConfigs", modelScoped: true},
}

func (r route) params(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+len(r.extra))
	for k, v := range in {
		if k == ParamModelUUID {
			continue
		}
		out[k] = v
	}
	for k, v := range r.extra {
		out[k] = v
	}
	return out
}
