package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownPolicy    = errors.New("runner: unknown run policy")
	ErrInvalidBatchSize = errors.New("runner: invalid batch size")
	ErrNoTasks          = errors.New("runner: no tasks built")
	ErrEmptyPipeline    = errors.New("runner: pipeline produced no results")
	ErrNilCallable      = errors.New("runner: callable is nil")
)

// Policy selects how tasks are scheduled across targets.
type Policy string

const (
	PolicySerial   Policy = "serial"
	PolicyParallel Policy = "parallel"
	PolicyBatch    Policy = "batch"
)

// DefaultBatchSize is the batch window when none is configured.
const DefaultBatchSize = 5

func Policies() []Policy {
	return []Policy{PolicySerial, PolicyParallel, PolicyBatch}
}

// ParsePolicy accepts a policy name case-insensitively. There is no
// fallback for unknown names.
func ParsePolicy(raw string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Policies() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, raw)
}

type Config struct {
	Policy    Policy
	BatchSize int
}

func DefaultConfig() Config {
	return Config{Policy: PolicySerial, BatchSize: DefaultBatchSize}
}

// WithDefaults fills an empty policy. BatchSize is left alone so an explicit
// zero is still rejected by Validate.
func (c Config) WithDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicySerial
	}
	return c
}

func (c Config) Validate() error {
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.Policy == PolicyBatch && c.BatchSize < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.BatchSize)
	}
	return nil
}
