// Package validation содержит функции валидации входных данных.
package validation

const maxCategoryLength = 64

// IsValidCategory проверяет имя категории склада. Имя становится именем
// файла очереди, поэтому допускаются только строчные латинские буквы,
// цифры, дефис и подчёркивание.
func IsValidCategory(category string) bool {
	if category == "" || len(category) > maxCategoryLength {
		return false
	}

	for _, ch := range category {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}

	return true
}
