package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pipeerrors "github.com/adverant/nexus/screenocr-worker/internal/errors"
)

// LoadPolicyFile overlays the knobs found in a YAML file onto base.
// Keys missing from the file keep the value from base.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, pipeerrors.NewConfigurationError("POLICY_FILE", fmt.Sprintf("read %s: %v", path, err))
	}
	return parsePolicy(data, base)
}

func parsePolicy(data []byte, base Policy) (Policy, error) {
	policy := base
	policy.SinkRates = make(map[string]time.Duration, len(base.SinkRates))
	for k, v := range base.SinkRates {
		policy.SinkRates[k] = v
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&policy); err != nil && !errors.Is(err, io.EOF) {
		return base, pipeerrors.NewConfigurationError("POLICY_FILE", fmt.Sprintf("parse: %v", err))
	}

	return policy, nil
}
