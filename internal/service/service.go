// Package service реализует бизнес-логику выдачи аккаунтов: учёт подписок,
// дневных квот и раздачу со склада.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanzstore/stockfarm/internal/model"
	"github.com/vanzstore/stockfarm/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	StockDispenseOne(category string) (string, error)
	StockCount(category string) (int, error)
	StockCategories() ([]string, error)
	GetQuota(userID int64) (*model.QuotaRecord, error)
	UpdateQuota(userID int64, fn func(rec *model.QuotaRecord) error) (*model.QuotaRecord, error)
	DeleteQuota(userID int64) (bool, error)
	AppendHistory(userID int64, entry model.HistoryEntry) error
	GetHistory(userID int64) ([]model.HistoryEntry, error)
}

// ErrAccessDenied возвращается, когда у пользователя нет активной подписки.
var (
	ErrAccessDenied = errors.New("no active subscription")
	// ErrDailyLimitReached возвращается, когда дневная квота исчерпана.
	ErrDailyLimitReached = errors.New("daily limit reached")
)

// UnlimitedQuota обозначает отсутствие дневного лимита (администратор).
const UnlimitedQuota = -1

// Service содержит бизнес-логику сервиса stockfarm.
type Service struct {
	repo      Repository
	adminIDs  map[int64]struct{}
	maxPerDay int
	pace      time.Duration

	// now подменяется в тестах для управления "сегодняшним" днём.
	now func() time.Time
}

// NewService создаёт сервис с указанным репозиторием, списком
// администраторов, дневным лимитом и паузой между выдачами.
func NewService(repo Repository, adminIDs []int64, maxPerDay int, pace time.Duration) *Service {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	return &Service{
		repo:      repo,
		adminIDs:  admins,
		maxPerDay: maxPerDay,
		pace:      pace,
		now:       time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// IsAdmin сообщает, является ли пользователь администратором.
func (s *Service) IsAdmin(userID int64) bool {
	_, ok := s.adminIDs[userID]
	return ok
}

func (s *Service) today() string {
	return s.now().Format(model.DateLayout)
}

// rollForward актуализирует дневной счётчик записи: при смене дня счётчик
// обнуляется и привязывается к новому дню. Счётчик за всё время не трогается.
func rollForward(rec model.QuotaRecord, today string) model.QuotaRecord {
	if rec.CountedDay != today {
		rec.CountedDay = today
		rec.DailyCount = 0
	}
	return rec
}

// CheckAccess сообщает, имеет ли пользователь доступ к выдаче: администратор —
// безусловно, остальные — при неистёкшей подписке.
func (s *Service) CheckAccess(userID int64) (bool, error) {
	if s.IsAdmin(userID) {
		return true, nil
	}

	rec, err := s.repo.GetQuota(userID)
	if errors.Is(err, repository.ErrQuotaNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if rec.ExpireAt == "" {
		return false, nil
	}

	expiry, err := time.Parse(model.DateLayout, rec.ExpireAt)
	if err != nil {
		return false, fmt.Errorf("parse expiry date: %w", err)
	}

	today, err := time.Parse(model.DateLayout, s.today())
	if err != nil {
		return false, fmt.Errorf("parse current date: %w", err)
	}

	return !expiry.Before(today), nil
}

// RollDay загружает или создаёт запись пользователя и актуализирует её
// дневной счётчик. Вызывается перед любой операцией, зависящей от квоты:
// счётчик всегда перечитывается с диска, а не из памяти.
func (s *Service) RollDay(userID int64) (*model.QuotaRecord, error) {
	return s.repo.UpdateQuota(userID, func(rec *model.QuotaRecord) error {
		*rec = rollForward(*rec, s.today())
		return nil
	})
}

// RemainingToday возвращает остаток дневной квоты пользователя.
// Для администратора возвращается UnlimitedQuota.
func (s *Service) RemainingToday(userID int64) (int, error) {
	if s.IsAdmin(userID) {
		return UnlimitedQuota, nil
	}

	rec, err := s.RollDay(userID)
	if err != nil {
		return 0, err
	}

	remaining := s.maxPerDay - rec.DailyCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RecordDispense учитывает одну выдаваемую запись: актуализация дня, проверка
// лимита и инкремент обоих счётчиков происходят одной атомарной мутацией,
// поэтому параллельные выдачи одному пользователю не теряют инкременты и не
// проскакивают дневной лимит.
func (s *Service) RecordDispense(userID int64) error {
	_, err := s.repo.UpdateQuota(userID, func(rec *model.QuotaRecord) error {
		*rec = rollForward(*rec, s.today())
		if !s.IsAdmin(userID) && rec.DailyCount >= s.maxPerDay {
			return ErrDailyLimitReached
		}
		rec.DailyCount++
		rec.LifetimeCount++
		return nil
	})
	return err
}

// unrecordDispense откатывает учтённую выдачу, если после резервирования
// квоты склад оказался пуст.
func (s *Service) unrecordDispense(userID int64) error {
	_, err := s.repo.UpdateQuota(userID, func(rec *model.QuotaRecord) error {
		if rec.DailyCount > 0 {
			rec.DailyCount--
		}
		if rec.LifetimeCount > 0 {
			rec.LifetimeCount--
		}
		return nil
	})
	return err
}

// Grant продлевает подписку пользователя на days дней от максимума из
// текущего срока и сегодняшней даты. Повторные вызовы складываются.
// Счётчики выдач не сбрасываются. Возвращает новую дату окончания.
func (s *Service) Grant(userID int64, days int) (string, error) {
	if days <= 0 {
		return "", errors.New("days must be positive")
	}

	today, err := time.Parse(model.DateLayout, s.today())
	if err != nil {
		return "", fmt.Errorf("parse current date: %w", err)
	}

	rec, err := s.repo.UpdateQuota(userID, func(rec *model.QuotaRecord) error {
		base := today
		if rec.ExpireAt != "" {
			expiry, err := time.Parse(model.DateLayout, rec.ExpireAt)
			if err != nil {
				return fmt.Errorf("parse expiry date: %w", err)
			}
			if expiry.After(today) {
				base = expiry
			}
		}

		rec.ExpireAt = base.AddDate(0, 0, days).Format(model.DateLayout)
		if rec.CountedDay == "" {
			rec.CountedDay = s.today()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return rec.ExpireAt, nil
}

// Revoke полностью удаляет запись пользователя. Возвращает признак того,
// что запись существовала.
func (s *Service) Revoke(userID int64) (bool, error) {
	return s.repo.DeleteQuota(userID)
}

// History возвращает последние limit записей истории выдач пользователя.
// limit <= 0 означает всю историю.
func (s *Service) History(userID int64, limit int) ([]model.HistoryEntry, error) {
	entries, err := s.repo.GetHistory(userID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// QuotaStatus — сводка по квоте и подписке пользователя для фронтенда.
type QuotaStatus struct {
	Admin         bool   `json:"admin"`
	Remaining     int    `json:"remaining"`
	ExpireAt      string `json:"expire_at,omitempty"`
	DaysLeft      int    `json:"days_left"`
	LifetimeCount int    `json:"total_generated"`
}

// GetQuotaStatus возвращает сводку по квоте и остатку подписки пользователя.
func (s *Service) GetQuotaStatus(userID int64) (*QuotaStatus, error) {
	rec, err := s.RollDay(userID)
	if err != nil {
		return nil, err
	}

	st := &QuotaStatus{
		Admin:         s.IsAdmin(userID),
		ExpireAt:      rec.ExpireAt,
		LifetimeCount: rec.LifetimeCount,
	}

	if st.Admin {
		st.Remaining = UnlimitedQuota
	} else {
		st.Remaining = s.maxPerDay - rec.DailyCount
		if st.Remaining < 0 {
			st.Remaining = 0
		}
	}

	if rec.ExpireAt != "" {
		expiry, err := time.Parse(model.DateLayout, rec.ExpireAt)
		if err != nil {
			return nil, fmt.Errorf("parse expiry date: %w", err)
		}
		today, _ := time.Parse(model.DateLayout, s.today())
		if days := int(expiry.Sub(today).Hours() / 24); days > 0 {
			st.DaysLeft = days
		}
	}

	return st, nil
}

// DispenseBatch выдаёт пользователю до count аккаунтов категории по одному,
// с паузой между выдачами. Каждый выданный аккаунт сразу учитывается в
// квоте и истории. Если склад опустел раньше, возвращается то, что успели
// выдать; если не выдано ничего — repository.ErrStockEmpty.
func (s *Service) DispenseBatch(ctx context.Context, userID int64, category string, count int) ([]string, error) {
	if count <= 0 {
		return nil, errors.New("count must be positive")
	}

	ok, err := s.CheckAccess(userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessDenied
	}

	rec, err := s.RollDay(userID)
	if err != nil {
		return nil, err
	}

	if !s.IsAdmin(userID) {
		remaining := s.maxPerDay - rec.DailyCount
		if remaining <= 0 {
			return nil, ErrDailyLimitReached
		}
		if count > remaining {
			count = remaining
		}
	}

	var records []string
	for i := 0; i < count; i++ {
		// Квота резервируется до изъятия со склада: параллельный запрос того
		// же пользователя упрётся в лимит здесь, а не после выдачи.
		if err := s.RecordDispense(userID); err != nil {
			if errors.Is(err, ErrDailyLimitReached) && len(records) > 0 {
				break
			}
			return records, err
		}

		record, err := s.repo.StockDispenseOne(category)
		if err != nil {
			if uerr := s.unrecordDispense(userID); uerr != nil {
				return records, uerr
			}
			if errors.Is(err, repository.ErrStockEmpty) {
				break
			}
			return records, err
		}
		records = append(records, record)

		if err := s.repo.AppendHistory(userID, model.HistoryEntry{Record: record, Product: category}); err != nil {
			return records, err
		}

		// Пауза против выгребания склада одним запросом на полной скорости.
		if s.pace > 0 && i < count-1 {
			select {
			case <-ctx.Done():
				return records, ctx.Err()
			case <-time.After(s.pace):
			}
		}
	}

	if len(records) == 0 {
		return nil, repository.ErrStockEmpty
	}
	return records, nil
}

// StockSummary возвращает число аккаунтов на складе по каждой категории.
func (s *Service) StockSummary() (map[string]int, error) {
	categories, err := s.repo.StockCategories()
	if err != nil {
		return nil, err
	}

	summary := make(map[string]int, len(categories))
	for _, c := range categories {
		n, err := s.repo.StockCount(c)
		if err != nil {
			return nil, err
		}
		summary[c] = n
	}
	return summary, nil
}
