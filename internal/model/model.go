// Package model содержит доменные сущности сервиса stockfarm.
package model

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout — формат календарных дат в персистентном состоянии.
const DateLayout = "2006-01-02"

// QuotaRecord описывает подписку и дневную квоту одного пользователя.
// Имена JSON-полей совпадают с форматом файла premium.json.
type QuotaRecord struct {
	ExpireAt      string `json:"expire_at"`
	CountedDay    string `json:"today_date"`
	DailyCount    int    `json:"today_count"`
	LifetimeCount int    `json:"total_generated"`
}

// HistoryEntry описывает один выданный пользователю аккаунт.
type HistoryEntry struct {
	Record  string `json:"record"`
	Product string `json:"product"`
}

// ScriptMode определяет способ получения аккаунтов от внешнего бота.
type ScriptMode string

const (
	// ScriptModeText — аккаунты извлекаются из текста финального сообщения.
	ScriptModeText ScriptMode = "text"
	// ScriptModeFile — аккаунты извлекаются из присланного файла.
	ScriptModeFile ScriptMode = "file"
)

// Duration оборачивает time.Duration для разбора значений вида "30s" из YAML.
type Duration time.Duration

// UnmarshalYAML реализует yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std возвращает значение как time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Integration описывает одну интеграцию с внешним ботом-генератором.
type Integration struct {
	Name string     `yaml:"name"`
	Peer string     `yaml:"peer"`
	Mode ScriptMode `yaml:"mode"`

	// Interval — пауза между прогонами сценария.
	Interval Duration `yaml:"interval"`

	StartCommand  string `yaml:"start_command"`
	CreateKeyword string `yaml:"create_keyword"`

	// Поля текстового сценария.
	PlanKeyword string   `yaml:"plan_keyword"`
	Params      []string `yaml:"params"`

	// Поля файлового сценария.
	DurationKeyword string `yaml:"duration_keyword"`
	QuantityKeyword string `yaml:"quantity_keyword"`
	DeliveryKeyword string `yaml:"delivery_keyword"`

	DoneKeyword string `yaml:"done_keyword"`

	StepTimeout   Duration `yaml:"step_timeout"`
	DoneTimeout   Duration `yaml:"done_timeout"`
	AttachTimeout Duration `yaml:"attach_timeout"`
}
