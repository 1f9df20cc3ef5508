// Package workflow реализует сценарии общения с внешними ботами-генераторами
// и планировщик их регулярного запуска.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vanzstore/stockfarm/internal/channel"
)

// ErrStepTimeout возвращается, когда шаг ожидания не дождался подходящего
// сообщения за отведённое время. Прерывает только текущий прогон.
var ErrStepTimeout = errors.New("step timed out")

var errNoMatch = errors.New("no matching message yet")

const (
	defaultPollInterval = time.Second
	defaultSettleDelay  = 1500 * time.Millisecond
)

// Channel описывает контракт шлюза сообщений, используемый сценариями.
type Channel interface {
	SendMessage(ctx context.Context, peer, text string) error
	LatestMessage(ctx context.Context, peer string) (*channel.Message, error)
	SelectOption(ctx context.Context, msg *channel.Message, row, col int) error
	DownloadAttachment(ctx context.Context, msg *channel.Message, dst string) error
}

// Session хранит состояние одного прогона сценария. Живёт только в памяти
// и отбрасывается по завершении прогона.
type Session struct {
	// LastMessage — сообщение, на котором сработал последний шаг ожидания.
	LastMessage *channel.Message
	// AttachmentPath — путь к скачанному вложению, если оно было.
	AttachmentPath string
}

// Step — один шаг сценария.
type Step struct {
	name string
	run  func(ctx context.Context, r *Runner, s *Session) error
}

// Runner исполняет шаги сценария против одного пира.
type Runner struct {
	ch   Channel
	peer string

	pollInterval time.Duration
	settleDelay  time.Duration
}

// NewRunner создаёт исполнитель сценариев для указанного пира.
func NewRunner(ch Channel, peer string) *Runner {
	return &Runner{
		ch:           ch,
		peer:         peer,
		pollInterval: defaultPollInterval,
		settleDelay:  defaultSettleDelay,
	}
}

// Run исполняет шаги строго по порядку. После каждого шага выдерживается
// пауза, давая пиру время обработать побочный эффект. Ошибка любого шага
// завершает прогон целиком.
func (r *Runner) Run(ctx context.Context, steps []Step) (*Session, error) {
	s := &Session{}
	for _, step := range steps {
		if err := step.run(ctx, r, s); err != nil {
			return nil, fmt.Errorf("step %q: %w", step.name, err)
		}
		if err := r.settle(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *Runner) settle(ctx context.Context) error {
	timer := time.NewTimer(r.settleDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// await опрашивает последнее сообщение пира с фиксированным интервалом,
// пока match не сработает или не истечёт timeout. Ошибка транспорта
// прекращает ожидание сразу.
func (r *Runner) await(ctx context.Context, timeout time.Duration, match func(*channel.Message) bool) (*channel.Message, error) {
	attempts := uint64(timeout / r.pollInterval)
	if attempts == 0 {
		attempts = 1
	}

	var found *channel.Message
	backoff := retry.WithMaxRetries(attempts, retry.NewConstant(r.pollInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		msg, err := r.ch.LatestMessage(ctx, r.peer)
		if err != nil {
			return fmt.Errorf("poll latest message: %w", err)
		}
		if msg == nil || !match(msg) {
			return retry.RetryableError(errNoMatch)
		}
		found = msg
		return nil
	})
	if err != nil {
		if errors.Is(err, errNoMatch) {
			return nil, ErrStepTimeout
		}
		return nil, err
	}

	return found, nil
}

// Send возвращает шаг, отправляющий пиру текстовое сообщение.
func Send(text string) Step {
	return Step{
		name: "send " + text,
		run: func(ctx context.Context, r *Runner, s *Session) error {
			if err := r.ch.SendMessage(ctx, r.peer, text); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
			return nil
		},
	}
}

// AwaitOption возвращает шаг, ждущий в последнем сообщении пира кнопку,
// чей текст содержит keyword (без учёта регистра), и нажимающий её.
func AwaitOption(keyword string, timeout time.Duration) Step {
	return Step{
		name: "await option " + keyword,
		run: func(ctx context.Context, r *Runner, s *Session) error {
			var row, col int
			msg, err := r.await(ctx, timeout, func(m *channel.Message) bool {
				ri, ci, ok := findButton(m, keyword)
				if ok {
					row, col = ri, ci
				}
				return ok
			})
			if err != nil {
				return err
			}
			if err := r.ch.SelectOption(ctx, msg, row, col); err != nil {
				return fmt.Errorf("select option: %w", err)
			}
			s.LastMessage = msg
			return nil
		},
	}
}

// AwaitText возвращает шаг, ждущий от пира сообщение, текст которого
// содержит keyword (без учёта регистра).
func AwaitText(keyword string, timeout time.Duration) Step {
	return Step{
		name: "await text " + keyword,
		run: func(ctx context.Context, r *Runner, s *Session) error {
			msg, err := r.await(ctx, timeout, func(m *channel.Message) bool {
				return strings.Contains(strings.ToLower(m.Text), strings.ToLower(keyword))
			})
			if err != nil {
				return err
			}
			s.LastMessage = msg
			return nil
		},
	}
}

// AwaitAttachment возвращает шаг, ждущий от пира сообщение с вложением.
func AwaitAttachment(timeout time.Duration) Step {
	return Step{
		name: "await attachment",
		run: func(ctx context.Context, r *Runner, s *Session) error {
			msg, err := r.await(ctx, timeout, func(m *channel.Message) bool {
				return m.Attachment != nil
			})
			if err != nil {
				return err
			}
			s.LastMessage = msg
			return nil
		},
	}
}

// Download возвращает шаг, скачивающий вложение из последнего пойманного
// сообщения во временный файл. Путь остаётся в сессии.
func Download(dir string) Step {
	return Step{
		name: "download attachment",
		run: func(ctx context.Context, r *Runner, s *Session) error {
			msg := s.LastMessage
			if msg == nil || msg.Attachment == nil {
				return errors.New("no attachment in session")
			}
			dst := filepath.Join(dir, fmt.Sprintf("stockfarm-%d.txt", msg.ID))
			if err := r.ch.DownloadAttachment(ctx, msg, dst); err != nil {
				return fmt.Errorf("download attachment: %w", err)
			}
			s.AttachmentPath = dst
			return nil
		},
	}
}

func findButton(m *channel.Message, keyword string) (int, int, bool) {
	needle := strings.ToLower(keyword)
	for ri, rowButtons := range m.Buttons {
		for ci, b := range rowButtons {
			if strings.Contains(strings.ToLower(b.Label), needle) {
				return ri, ci, true
			}
		}
	}
	return 0, 0, false
}
