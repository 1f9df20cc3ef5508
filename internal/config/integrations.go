package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vanzstore/stockfarm/internal/model"
	"github.com/vanzstore/stockfarm/internal/validation"
)

const (
	defaultStartCommand  = "/start"
	defaultInterval      = 10 * time.Minute
	defaultStepTimeout   = 30 * time.Second
	defaultDoneTimeout   = 5 * time.Minute
	defaultFileDone      = 45 * time.Minute
	defaultAttachTimeout = 2 * time.Minute
)

type integrationsFile struct {
	Integrations []model.Integration `yaml:"integrations"`
}

// LoadIntegrations читает описания интеграций из YAML-файла и подставляет
// значения по умолчанию для незаполненных полей.
func LoadIntegrations(path string) ([]model.Integration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read integrations file: %w", err)
	}

	var f integrationsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse integrations file: %w", err)
	}

	seen := make(map[string]bool)
	for i := range f.Integrations {
		ig := &f.Integrations[i]

		if !validation.IsValidCategory(ig.Name) {
			return nil, fmt.Errorf("integration %d: invalid name %q", i, ig.Name)
		}
		if seen[ig.Name] {
			return nil, fmt.Errorf("integration %d: duplicate name %q", i, ig.Name)
		}
		seen[ig.Name] = true

		if ig.Mode == "" {
			ig.Mode = model.ScriptModeText
		}
		if ig.Mode != model.ScriptModeText && ig.Mode != model.ScriptModeFile {
			return nil, fmt.Errorf("integration %q: unknown mode %q", ig.Name, ig.Mode)
		}

		if ig.StartCommand == "" {
			ig.StartCommand = defaultStartCommand
		}
		if ig.Interval == 0 {
			ig.Interval = model.Duration(defaultInterval)
		}
		if ig.StepTimeout == 0 {
			ig.StepTimeout = model.Duration(defaultStepTimeout)
		}
		if ig.DoneTimeout == 0 {
			if ig.Mode == model.ScriptModeFile {
				ig.DoneTimeout = model.Duration(defaultFileDone)
			} else {
				ig.DoneTimeout = model.Duration(defaultDoneTimeout)
			}
		}
		if ig.AttachTimeout == 0 {
			ig.AttachTimeout = model.Duration(defaultAttachTimeout)
		}
	}

	return f.Integrations, nil
}
