package transport

// Reply shapes shared by every transport. Transports that speak a different
// native format normalise into these before returning.

type ControllerInfo struct {
	UUID         string `json:"uuid" yaml:"uuid"`
	Name         string `json:"name" yaml:"name"`
	AgentVersion string `json:"agent-version,omitempty" yaml:"agent-version,omitempty"`
}

type ModelInfo struct {
	Name  string `json:"name" yaml:"name"`
	UUID  string `json:"uuid" yaml:"uuid"`
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

type ModelsReply struct {
	Models []ModelInfo `json:"models" yaml:"models"`
}

type UserInfo struct {
	Username    string `json:"username" yaml:"username"`
	DisplayName string `json:"display-name,omitempty" yaml:"display-name,omitempty"`
	Access      string `json:"access,omitempty" yaml:"access,omitempty"`
	Disabled    bool   `json:"disabled" yaml:"disabled"`
}

type UsersReply struct {
	Users []UserInfo `json:"users" yaml:"users"`
}

// AppConfigReply carries the effective value of every application setting.
type AppConfigReply struct {
	Application string         `json:"application" yaml:"application"`
	Settings    map[string]any `json:"settings" yaml:"settings"`
}
