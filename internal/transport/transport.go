// Package transport is the boundary between spells and controllers. A
// Connector opens a Session to one target; spells invoke named operations
// on the session and decode the JSON payload they get back.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/spellctl/internal/target"
)

// Operation names understood by every transport.
const (
	OpControllerInfo   = "controller.info"
	OpListModels       = "controller.models"
	OpModelStatus      = "model.status"
	OpListUsers        = "users.list"
	OpAddUser          = "users.add"
	OpEnableUser       = "users.enable"
	OpDisableUser      = "users.disable"
	OpRemoveUser       = "users.remove"
	OpSetPassword      = "users.set-password"
	OpGrantController  = "access.grant-controller"
	OpRevokeController = "access.revoke-controller"
	OpGrantModel       = "access.grant-model"
	OpRevokeModel      = "access.revoke-model"
	OpGetAppConfig     = "application.get-config"
	OpSetAppConfig     = "application.set-config"
)

// Parameter keys shared by every transport.
const (
	ParamUser        = "user"
	ParamDisplayName = "display-name"
	ParamPassword    = "password"
	ParamAccess      = "access"
	ParamModels      = "models"
	ParamModel       = "model"
	ParamModelUUID   = "model-uuid"
	ParamApplication = "application"
	ParamSettings    = "settings"
)

// Remote error classes spells can map to non-fatal outcomes.
const (
	CodeAlreadyExists = "already-exists"
	CodeNotFound      = "not-found"
	CodeUnauthorized  = "unauthorized"
	CodeUnsupported   = "not-supported"
)

var (
	ErrSessionClosed     = errors.New("transport: session closed")
	ErrUnknownTransport  = errors.New("transport: unknown transport")
	ErrUnsupportedOp     = errors.New("transport: unsupported operation")
	ErrNoConnector       = errors.New("transport: no connector configured")
	ErrMalformedResponse = errors.New("transport: malformed response")
)

// Session is an open connection to one target.
type Session interface {
	Invoke(ctx context.Context, op string, params map[string]any) (json.RawMessage, error)
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, tgt target.Target) (Session, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, tgt target.Target) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, tgt target.Target) (Session, error) {
	return f(ctx, tgt)
}

// RemoteError is an error reported by the controller itself.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("transport: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("transport: %s: %s (%s)", e.Op, e.Message, e.Code)
}

// IsCode reports whether err carries a RemoteError with the given code.
func IsCode(err error, code string) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Code == code
}

// Decode unmarshals a raw payload into out, wrapping failures.
func Decode(op string, raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s: empty payload", ErrMalformedResponse, op)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, op, err)
	}
	return nil
}
