package workflow

import (
	"context"
	"fmt"
	"os"

	"github.com/vanzstore/stockfarm/internal/extractor"
	"github.com/vanzstore/stockfarm/internal/model"
)

// Stock описывает контракт склада, в который сценарии складывают добытые аккаунты.
type Stock interface {
	StockAppend(category string, records []string) error
}

// buildSteps собирает последовательность шагов для интеграции.
//
// Текстовый сценарий: запуск, выбор пункта создания, выбор тарифа, отправка
// свободных параметров, ожидание сообщения о завершении. Файловый сценарий:
// запуск, выбор пункта создания, срока, количества и способа выдачи,
// долгое ожидание завершения, ожидание и скачивание файла выгрузки.
func buildSteps(ig model.Integration) []Step {
	steps := []Step{
		Send(ig.StartCommand),
		AwaitOption(ig.CreateKeyword, ig.StepTimeout.Std()),
	}

	switch ig.Mode {
	case model.ScriptModeFile:
		steps = append(steps,
			AwaitOption(ig.DurationKeyword, ig.StepTimeout.Std()),
			AwaitOption(ig.QuantityKeyword, ig.StepTimeout.Std()),
			AwaitOption(ig.DeliveryKeyword, ig.StepTimeout.Std()),
			AwaitText(ig.DoneKeyword, ig.DoneTimeout.Std()),
			AwaitAttachment(ig.AttachTimeout.Std()),
			Download(os.TempDir()),
		)
	default:
		steps = append(steps, AwaitOption(ig.PlanKeyword, ig.StepTimeout.Std()))
		for _, p := range ig.Params {
			steps = append(steps, Send(p))
		}
		steps = append(steps, AwaitText(ig.DoneKeyword, ig.DoneTimeout.Std()))
	}

	return steps
}

// RunOnce выполняет один прогон сценария интеграции и кладёт извлечённые
// аккаунты на склад. Возвращает число добытых аккаунтов.
func RunOnce(ctx context.Context, r *Runner, ig model.Integration, stock Stock) (int, error) {
	sess, err := r.Run(ctx, buildSteps(ig))
	if err != nil {
		return 0, err
	}

	var records []string
	switch ig.Mode {
	case model.ScriptModeFile:
		records = extractor.FromFile(sess.AttachmentPath)
		if sess.AttachmentPath != "" {
			_ = os.Remove(sess.AttachmentPath)
		}
	default:
		if sess.LastMessage != nil {
			records = extractor.FromText(sess.LastMessage.Text)
		}
	}

	if len(records) == 0 {
		return 0, nil
	}

	if err := stock.StockAppend(ig.Name, records); err != nil {
		return 0, fmt.Errorf("append to stock: %w", err)
	}
	return len(records), nil
}
