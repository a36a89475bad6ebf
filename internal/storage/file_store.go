package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var dimensionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)

// FileStore хранит каждый регион в отдельном файле:
// <base>/<dimension>/r.<x>.<z>.wcr
//
// Запись идёт во временный файл в той же директории с последующим rename,
// поэтому читатель никогда не видит частично записанный регион.
type FileStore struct {
	basePath string
}

// NewFileStore создаёт файловое хранилище, создавая базовую директорию
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", basePath, err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath возвращает корневую директорию хранилища
func (fs *FileStore) BasePath() string { return fs.basePath }

// Path возвращает путь к файлу региона
func (fs *FileStore) Path(key RegionKey) (string, error) {
	if !dimensionNameRe.MatchString(key.Dimension) || key.Dimension == "." || key.Dimension == ".." {
		return "", fmt.Errorf("недопустимое имя измерения %q", key.Dimension)
	}
	return filepath.Join(fs.basePath, key.Dimension, fmt.Sprintf("r.%d.%d.wcr", key.X, key.Z)), nil
}

// Load читает файл региона
func (fs *FileStore) Load(ctx context.Context, key RegionKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := fs.Path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrRegionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла региона %s: %w", path, err)
	}
	return data, nil
}

// Save атомарно записывает файл региона (tmp + fsync + rename)
func (fs *FileStore) Save(ctx context.Context, key RegionKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := fs.Path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("не удалось создать временный файл: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // после успешного rename файла уже нет

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка fsync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("ошибка переименования %s -> %s: %w", tmpName, path, err)
	}
	return nil
}

// Exists проверяет наличие файла региона
func (fs *FileStore) Exists(ctx context.Context, key RegionKey) (bool, error) {
	path, err := fs.Path(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete удаляет файл региона
func (fs *FileStore) Delete(ctx context.Context, key RegionKey) error {
	path, err := fs.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", path, err)
	}
	return nil
}

// Close ничего не делает: файлы не держатся открытыми
func (fs *FileStore) Close() error { return nil }
