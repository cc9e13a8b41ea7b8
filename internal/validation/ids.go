package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// StoreIDPattern определяет допустимый формат идентификатора хранилища
// Только латинские буквы, цифры, '_' и '-'; первый символ не '-'
var StoreIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_-]{0,63}$`)

const (
	// MaxPathLen максимальная длина пути объекта в байтах
	MaxPathLen = 4096
)

// ValidateStoreID проверяет идентификатор хранилища.
// Идентификатор используется как имя каталога и часть ключей хранилища.
func ValidateStoreID(id string) error {
	if id == "" {
		return fmt.Errorf("store id cannot be empty")
	}

	if !StoreIDPattern.MatchString(id) {
		return fmt.Errorf("store id %q can only contain letters, numbers, '_' and '-' and must not exceed 64 characters", id)
	}

	return nil
}

// ValidateObjectPath проверяет путь объекта относительно корня хранилища
// Формат: через '/', без ведущего '/', без '.' и '..' компонентов
func ValidateObjectPath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if len(p) > MaxPathLen {
		return fmt.Errorf("path must not exceed %d bytes", MaxPathLen)
	}

	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path must not contain NUL bytes")
	}

	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q must be relative", p)
	}

	if path.Clean(p) != p {
		return fmt.Errorf("path %q is not clean", p)
	}

	for _, part := range strings.Split(p, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("path %q must not contain %q", p, part)
		}
	}

	return nil
}
