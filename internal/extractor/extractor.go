// Package extractor выделяет строки аккаунтов из ответов внешнего бота.
package extractor

import (
	"os"
	"strings"
	"unicode/utf8"
)

// minRecordLength — минимальная длина строки-аккаунта в рунах.
const minRecordLength = 5

// recordDelimiters — символы, хотя бы один из которых обязан присутствовать
// в строке-аккаунте (логин@почта, логин:пароль и т.п.).
const recordDelimiters = "@:|"

// noisePrefixes — начала служебных строк в ответе бота (статусы, эмодзи успеха).
var noisePrefixes = []string{"✅", "berhasil", "gagal", "success", "failure"}

// noisePhrases — фразы, помечающие строку как служебную целиком.
var noisePhrases = []string{"proses selesai"}

// FromText извлекает аккаунты из свободного текста сообщения. Служебные
// строки отбрасываются, порядок оставшихся сохраняется.
func FromText(text string) []string {
	var records []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isNoise(line) {
			continue
		}
		if utf8.RuneCountInString(line) < minRecordLength {
			continue
		}
		if !strings.ContainsAny(line, recordDelimiters) {
			continue
		}
		records = append(records, line)
	}
	return records
}

func isNoise(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range noisePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, p := range noisePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// FromFile читает файл выгрузки и возвращает его непустые строки как
// аккаунты. Выгрузка — структурированный вывод, фильтрация шума не нужна.
// Нечитаемый или отсутствующий файл даёт пустой результат, не ошибку.
func FromFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var records []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			records = append(records, line)
		}
	}
	return records
}
