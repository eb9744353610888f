package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/danmuck/spellctl/internal/transport"
)

// normalize converts juju client json into the shared reply shapes.
// Operations without a shared shape pass through untouched.
func normalize(op, controller string, raw []byte) (json.RawMessage, error) {
	var out any
	switch op {
	case transport.OpControllerInfo:
		var doc map[string]struct {
			Details struct {
				UUID         string `json:"uuid"`
				AgentVersion string `json:"agent-version"`
			} `json:"details"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, malformed(op, err)
		}
		entry, ok := doc[controller]
		if !ok {
			return nil, malformed(op, fmt.Errorf("controller %q missing from output", controller))
		}
		out = transport.ControllerInfo{UUID: entry.Details.UUID, Name: controller, AgentVersion: entry.Details.AgentVersion}
	case transport.OpListModels:
		var doc struct {
			Models []struct {
				ShortName string `json:"short-name"`
				ModelUUID string `json:"model-uuid"`
				Owner     string `json:"owner"`
			} `json:"models"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, malformed(op, err)
		}
		reply := transport.ModelsReply{Models: make([]transport.ModelInfo, 0, len(doc.Models))}
		for _, m := range doc.Models {
			reply.Models = append(reply.Models, transport.ModelInfo{Name: m.ShortName, UUID: m.ModelUUID, Owner: m.Owner})
		}
		out = reply
	case transport.OpListUsers:
		var doc []struct {
			UserName    string `json:"user-name"`
			DisplayName string `json:"display-name"`
			Access      string `json:"access"`
			Disabled    bool   `json:"disabled"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, malformed(op, err)
		}
		reply := transport.UsersReply{Users: make([]transport.UserInfo, 0, len(doc))}
		for _, u := range doc {
			reply.Users = append(reply.Users, transport.UserInfo{
				Username:    u.UserName,
				DisplayName: u.DisplayName,
				Access:      u.Access,
				Disabled:    u.Disabled,
			})
		}
		sort.Slice(reply.Users, func(i, j int) bool { return reply.Users[i].Username < reply.Users[j].Username })
		out = reply
	case transport.OpGetAppConfig:
		var doc struct {
			Application string                    `json:"application"`
			Settings    map[string]map[string]any `json:"settings"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, malformed(op, err)
		}
		reply := transport.AppConfigReply{Application: doc.Application, Settings: make(map[string]any, len(doc.Settings))}
		for key, entry := range doc.Settings {
			reply.Settings[key] = entry["value"]
		}
		out = reply
	default:
		return json.RawMessage(raw), nil
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, malformed(op, err)
	}
	return encoded, nil
}

func malformed(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", transport.ErrMalformedResponse, op, err)
}
