package workflow

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/vanzstore/stockfarm/internal/channel"
	"github.com/vanzstore/stockfarm/internal/model"
)

// fakePeer имитирует внешний бот за шлюзом: реагирует на отправленные
// сообщения и нажатия кнопок, подменяя "последнее сообщение".
type fakePeer struct {
	mu     sync.Mutex
	latest *channel.Message

	sent   []string
	clicks [][2]int

	onSend  func(p *fakePeer, text string)
	onClick func(p *fakePeer, msg *channel.Message, row, col int)

	sendErr   error
	latestErr error

	attachmentBody string
}

func (p *fakePeer) SendMessage(ctx context.Context, peer, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, text)
	if p.onSend != nil {
		p.onSend(p, text)
	}
	return nil
}

func (p *fakePeer) LatestMessage(ctx context.Context, peer string) (*channel.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latestErr != nil {
		return nil, p.latestErr
	}
	return p.latest, nil
}

func (p *fakePeer) SelectOption(ctx context.Context, msg *channel.Message, row, col int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, [2]int{row, col})
	if p.onClick != nil {
		p.onClick(p, msg, row, col)
	}
	return nil
}

func (p *fakePeer) DownloadAttachment(ctx context.Context, msg *channel.Message, dst string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return os.WriteFile(dst, []byte(p.attachmentBody), 0o644)
}

func (p *fakePeer) setLatest(msg *channel.Message) {
	p.latest = msg
}

type fakeStock struct {
	mu      sync.Mutex
	appends map[string][]string
}

func newFakeStock() *fakeStock {
	return &fakeStock{appends: make(map[string][]string)}
}

func (s *fakeStock) StockAppend(category string, records []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends[category] = append(s.appends[category], records...)
	return nil
}

func (s *fakeStock) all(category string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.appends[category]...)
}

func newTestRunner(ch Channel, peer string) *Runner {
	r := NewRunner(ch, peer)
	r.pollInterval = time.Millisecond
	r.settleDelay = 0
	return r
}

func textIntegration() model.Integration {
	return model.Integration{
		Name:          "capcut",
		Peer:          "@gen_bot",
		Mode:          model.ScriptModeText,
		StartCommand:  "/start",
		CreateKeyword: "create",
		PlanKeyword:   "pro",
		Params:        []string{"vanz.id", "Secret123"},
		DoneKeyword:   "selesai",
		StepTimeout:   model.Duration(100 * time.Millisecond),
		DoneTimeout:   model.Duration(100 * time.Millisecond),
	}
}

// generatePeer проигрывает диалог текстового сценария до финального
// сообщения с аккаунтами.
func generatePeer() *fakePeer {
	p := &fakePeer{}

	p.onSend = func(p *fakePeer, text string) {
		switch text {
		case "/start":
			p.setLatest(&channel.Message{
				ID:      1,
				Text:    "Menu",
				Buttons: [][]channel.Button{{{Label: "🧪 Create Account"}}},
			})
		case "Secret123":
			p.setLatest(&channel.Message{
				ID:   4,
				Text: "✅ Proses Selesai!\nuser1@mail.com:pass1\nuser2@mail.com:pass2\nBerhasil",
			})
		}
	}

	p.onClick = func(p *fakePeer, msg *channel.Message, row, col int) {
		switch msg.ID {
		case 1:
			p.setLatest(&channel.Message{
				ID:      2,
				Text:    "Pilih paket",
				Buttons: [][]channel.Button{{{Label: "Pro Plan"}, {Label: "Free"}}},
			})
		case 2:
			p.setLatest(&channel.Message{ID: 3, Text: "Kirim domain dan password"})
		}
	}

	return p
}

func TestRunOnce_TextScript(t *testing.T) {
	peer := generatePeer()
	stock := newFakeStock()
	r := newTestRunner(peer, "@gen_bot")

	n, err := RunOnce(context.Background(), r, textIntegration(), stock)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if n != 2 {
		t.Fatalf("records = %d, want 2", n)
	}

	got := stock.all("capcut")
	want := []string{"user1@mail.com:pass1", "user2@mail.com:pass2"}
	if len(got) != len(want) {
		t.Fatalf("stock = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stock[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	wantSent := []string{"/start", "vanz.id", "Secret123"}
	if len(peer.sent) != len(wantSent) {
		t.Fatalf("sent = %v, want %v", peer.sent, wantSent)
	}
}

func TestRunOnce_FileScript(t *testing.T) {
	p := &fakePeer{attachmentBody: "acc1@mail.com:1\nacc2@mail.com:2\nacc3@mail.com:3\n"}

	p.onSend = func(p *fakePeer, text string) {
		if text == "/start" {
			p.setLatest(&channel.Message{
				ID:      1,
				Text:    "Menu",
				Buttons: [][]channel.Button{{{Label: "Create"}}},
			})
		}
	}

	p.onClick = func(p *fakePeer, msg *channel.Message, row, col int) {
		switch msg.ID {
		case 1:
			p.setLatest(&channel.Message{
				ID:      2,
				Buttons: [][]channel.Button{{{Label: "7 Days"}, {Label: "30 Days"}}},
			})
		case 2:
			p.setLatest(&channel.Message{
				ID:      3,
				Buttons: [][]channel.Button{{{Label: "x10"}, {Label: "x20"}}},
			})
		case 3:
			p.setLatest(&channel.Message{
				ID:      4,
				Buttons: [][]channel.Button{{{Label: "Kirim File"}}},
			})
		case 4:
			p.setLatest(&channel.Message{
				ID:         5,
				Text:       "Proses selesai, file siap",
				Attachment: &channel.Attachment{ID: "f1", Name: "export.txt"},
			})
		}
	}

	ig := model.Integration{
		Name:            "canva",
		Peer:            "@file_bot",
		Mode:            model.ScriptModeFile,
		StartCommand:    "/start",
		CreateKeyword:   "create",
		DurationKeyword: "7 days",
		QuantityKeyword: "x10",
		DeliveryKeyword: "file",
		DoneKeyword:     "selesai",
		StepTimeout:     model.Duration(100 * time.Millisecond),
		DoneTimeout:     model.Duration(100 * time.Millisecond),
		AttachTimeout:   model.Duration(100 * time.Millisecond),
	}

	stock := newFakeStock()
	r := newTestRunner(p, "@file_bot")

	n, err := RunOnce(context.Background(), r, ig, stock)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if n != 3 {
		t.Fatalf("records = %d, want 3", n)
	}
	if got := stock.all("canva"); len(got) != 3 || got[0] != "acc1@mail.com:1" {
		t.Fatalf("unexpected stock contents: %v", got)
	}
}

func TestRunOnce_OptionTimeout(t *testing.T) {
	// Пир отвечает меню без подходящей кнопки: шаг выбора тарифа истекает.
	p := &fakePeer{}
	p.onSend = func(p *fakePeer, text string) {
		if text == "/start" {
			p.setLatest(&channel.Message{
				ID:      1,
				Buttons: [][]channel.Button{{{Label: "Create"}}},
			})
		}
	}
	p.onClick = func(p *fakePeer, msg *channel.Message, row, col int) {
		p.setLatest(&channel.Message{
			ID:      2,
			Buttons: [][]channel.Button{{{Label: "Unrelated"}}},
		})
	}

	ig := textIntegration()
	ig.StepTimeout = model.Duration(10 * time.Millisecond)

	stock := newFakeStock()
	r := newTestRunner(p, "@gen_bot")

	_, err := RunOnce(context.Background(), r, ig, stock)
	if !errors.Is(err, ErrStepTimeout) {
		t.Fatalf("err = %v, want ErrStepTimeout", err)
	}
	if got := stock.all("capcut"); len(got) != 0 {
		t.Fatalf("stock must stay empty after failed run, got %v", got)
	}
}

func TestRunOnce_TransportFailureAbortsRun(t *testing.T) {
	p := &fakePeer{}
	p.onSend = func(p *fakePeer, text string) {
		p.setLatest(&channel.Message{
			ID:      1,
			Buttons: [][]channel.Button{{{Label: "Create"}}},
		})
		p.latestErr = errors.New("gateway unavailable")
	}

	stock := newFakeStock()
	r := newTestRunner(p, "@gen_bot")

	start := time.Now()
	_, err := RunOnce(context.Background(), r, textIntegration(), stock)
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if errors.Is(err, ErrStepTimeout) {
		t.Fatalf("transport failure must not be reported as timeout: %v", err)
	}
	// Ошибка транспорта должна прерывать шаг сразу, без ожидания таймаута.
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("step took %v, expected immediate abort", elapsed)
	}
}

func TestRunOnce_NoRecordsIsNotAnError(t *testing.T) {
	peer := generatePeer()
	peer.onSend = func(p *fakePeer, text string) {
		switch text {
		case "/start":
			p.setLatest(&channel.Message{
				ID:      1,
				Buttons: [][]channel.Button{{{Label: "Create"}}},
			})
		case "Secret123":
			p.setLatest(&channel.Message{ID: 4, Text: "Proses selesai, stok kosong"})
		}
	}

	stock := newFakeStock()
	r := newTestRunner(peer, "@gen_bot")

	n, err := RunOnce(context.Background(), r, textIntegration(), stock)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if n != 0 {
		t.Fatalf("records = %d, want 0", n)
	}
	if got := stock.all("capcut"); len(got) != 0 {
		t.Fatalf("stock must stay empty, got %v", got)
	}
}
