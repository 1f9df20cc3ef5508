// Package repository содержит реализацию файлового хранилища состояния сервиса stockfarm.
//
// Всё состояние живёт в каталоге данных: stock/<категория>.txt — очередь
// аккаунтов по одному на строку, premium.json — квоты и подписки,
// history.json — история выдач. Каждая мутация выполняется как чтение
// целого файла, изменение и атомарная перезапись под мьютексом файла,
// чтобы фермер и раздача не затирали записи друг друга.
package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/vanzstore/stockfarm/internal/model"
	"github.com/vanzstore/stockfarm/internal/validation"
)

// ErrStockEmpty возвращается при попытке выдачи из пустой категории. Это не сбой, а штатный результат.
var (
	ErrStockEmpty = errors.New("stock is empty")
	// ErrQuotaNotFound возвращается, если у пользователя нет записи о квоте.
	ErrQuotaNotFound = errors.New("quota record not found")
	// ErrBadCategory возвращается для некорректного имени категории.
	ErrBadCategory = errors.New("invalid category name")
)

const (
	stockDir    = "stock"
	premiumFile = "premium.json"
	historyFile = "history.json"
)

// FileRepository предоставляет доступ к файловому хранилищу в каталоге данных.
type FileRepository struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileRepository создаёт репозиторий и инициализирует каталог данных.
func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		return nil, errors.New("data directory is not configured")
	}
	if err := os.MkdirAll(filepath.Join(dir, stockDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileRepository{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close закрывает репозиторий. Открытых ресурсов нет, метод существует для симметрии жизненного цикла.
func (r *FileRepository) Close() error {
	return nil
}

// fileLock возвращает мьютекс, сериализующий мутации одного файла.
func (r *FileRepository) fileLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

func (r *FileRepository) stockPath(category string) (string, error) {
	if !validation.IsValidCategory(category) {
		return "", fmt.Errorf("%w: %q", ErrBadCategory, category)
	}
	return filepath.Join(r.dir, stockDir, category+".txt"), nil
}

// readLines читает файл и возвращает непустые строки. Отсутствующий файл означает пустое состояние.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func writeLines(path string, lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// StockAppend дописывает аккаунты в конец очереди категории. Пустой ввод — no-op.
func (r *FileRepository) StockAppend(category string, records []string) error {
	if len(records) == 0 {
		return nil
	}

	path, err := r.stockPath(category)
	if err != nil {
		return err
	}

	lock := r.fileLock(stockDir + ":" + category)
	lock.Lock()
	defer lock.Unlock()

	lines, err := readLines(path)
	if err != nil {
		return err
	}

	for _, rec := range records {
		rec = strings.TrimSpace(rec)
		if rec != "" {
			lines = append(lines, rec)
		}
	}

	return writeLines(path, lines)
}

// StockDispenseOne извлекает самый старый аккаунт категории. Укороченная
// очередь записывается на диск до возврата аккаунта вызывающему, поэтому
// два конкурентных вызова никогда не получат одну и ту же строку.
func (r *FileRepository) StockDispenseOne(category string) (string, error) {
	path, err := r.stockPath(category)
	if err != nil {
		return "", err
	}

	lock := r.fileLock(stockDir + ":" + category)
	lock.Lock()
	defer lock.Unlock()

	lines, err := readLines(path)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", ErrStockEmpty
	}

	record := lines[0]
	if err := writeLines(path, lines[1:]); err != nil {
		return "", err
	}

	return record, nil
}

// StockCount возвращает число аккаунтов в очереди категории.
func (r *FileRepository) StockCount(category string) (int, error) {
	path, err := r.stockPath(category)
	if err != nil {
		return 0, err
	}

	lock := r.fileLock(stockDir + ":" + category)
	lock.Lock()
	defer lock.Unlock()

	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

// StockCategories возвращает имена категорий, для которых существуют файлы очередей.
func (r *FileRepository) StockCategories() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, stockDir))
	if err != nil {
		return nil, fmt.Errorf("read stock directory: %w", err)
	}

	var categories []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		categories = append(categories, strings.TrimSuffix(name, ".txt"))
	}
	return categories, nil
}

func (r *FileRepository) loadQuotaDB() (map[string]model.QuotaRecord, error) {
	db := make(map[string]model.QuotaRecord)
	path := filepath.Join(r.dir, premiumFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, fmt.Errorf("read %s: %w", premiumFile, err)
	}

	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse %s: %w", premiumFile, err)
	}
	return db, nil
}

func (r *FileRepository) saveQuotaDB(db map[string]model.QuotaRecord) error {
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", premiumFile, err)
	}
	path := filepath.Join(r.dir, premiumFile)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", premiumFile, err)
	}
	return nil
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// GetQuota возвращает запись о квоте пользователя.
func (r *FileRepository) GetQuota(userID int64) (*model.QuotaRecord, error) {
	lock := r.fileLock(premiumFile)
	lock.Lock()
	defer lock.Unlock()

	db, err := r.loadQuotaDB()
	if err != nil {
		return nil, err
	}

	rec, ok := db[userKey(userID)]
	if !ok {
		return nil, ErrQuotaNotFound
	}
	return &rec, nil
}

// SaveQuota сохраняет запись о квоте пользователя.
func (r *FileRepository) SaveQuota(userID int64, rec model.QuotaRecord) error {
	lock := r.fileLock(premiumFile)
	lock.Lock()
	defer lock.Unlock()

	db, err := r.loadQuotaDB()
	if err != nil {
		return err
	}

	db[userKey(userID)] = rec
	return r.saveQuotaDB(db)
}

// UpdateQuota применяет fn к записи пользователя атомарно: чтение, изменение
// и запись происходят под одной блокировкой файла, поэтому конкурентные
// вызовы не теряют инкременты друг друга. Отсутствующая запись передаётся в
// fn нулевой. Ошибка fn отменяет изменение целиком. Возвращается записанное
// состояние.
func (r *FileRepository) UpdateQuota(userID int64, fn func(rec *model.QuotaRecord) error) (*model.QuotaRecord, error) {
	lock := r.fileLock(premiumFile)
	lock.Lock()
	defer lock.Unlock()

	db, err := r.loadQuotaDB()
	if err != nil {
		return nil, err
	}

	rec := db[userKey(userID)]
	if err := fn(&rec); err != nil {
		return nil, err
	}

	db[userKey(userID)] = rec
	if err := r.saveQuotaDB(db); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteQuota удаляет запись о квоте пользователя и сообщает, существовала ли она.
func (r *FileRepository) DeleteQuota(userID int64) (bool, error) {
	lock := r.fileLock(premiumFile)
	lock.Lock()
	defer lock.Unlock()

	db, err := r.loadQuotaDB()
	if err != nil {
		return false, err
	}

	key := userKey(userID)
	if _, ok := db[key]; !ok {
		return false, nil
	}

	delete(db, key)
	if err := r.saveQuotaDB(db); err != nil {
		return false, err
	}
	return true, nil
}

func (r *FileRepository) loadHistoryDB() (map[string][]model.HistoryEntry, error) {
	db := make(map[string][]model.HistoryEntry)
	path := filepath.Join(r.dir, historyFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, fmt.Errorf("read %s: %w", historyFile, err)
	}

	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse %s: %w", historyFile, err)
	}
	return db, nil
}

// AppendHistory дописывает запись в историю выдач пользователя.
func (r *FileRepository) AppendHistory(userID int64, entry model.HistoryEntry) error {
	lock := r.fileLock(historyFile)
	lock.Lock()
	defer lock.Unlock()

	db, err := r.loadHistoryDB()
	if err != nil {
		return err
	}

	key := userKey(userID)
	db[key] = append(db[key], entry)

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", historyFile, err)
	}
	path := filepath.Join(r.dir, historyFile)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", historyFile, err)
	}
	return nil
}

// GetHistory возвращает историю выдач пользователя в порядке получения.
func (r *FileRepository) GetHistory(userID int64) ([]model.HistoryEntry, error) {
	lock := r.fileLock(historyFile)
	lock.Lock()
	defer lock.Unlock()

	db, err := r.loadHistoryDB()
	if err != nil {
		return nil, err
	}
	return db[userKey(userID)], nil
}
