package qa

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStorage 本地文件存储，路径相对于 basePath
type FileStorage struct {
	basePath string
}

// NewFileStorage 创建文件存储
func NewFileStorage(basePath string) *FileStorage {
	if basePath == "" {
		basePath = "./data/files"
	}
	return &FileStorage{basePath: basePath}
}

// Save 保存文件，返回相对路径和大小
func (s *FileStorage) Save(uid, name string, content io.Reader) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(name))
	rel := filepath.Join(safeSegment(uid), uuid.New().String()+ext)
	full := s.resolvePath(rel)

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", 0, fmt.Errorf("创建目录失败: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return "", 0, fmt.Errorf("创建文件失败: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, content)
	if err != nil {
		os.Remove(full)
		return "", 0, fmt.Errorf("写入文件失败: %w", err)
	}
	return rel, n, nil
}

// Open 打开文件
func (s *FileStorage) Open(rel string) (io.ReadCloser, error) {
	f, err := os.Open(s.resolvePath(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("文件不存在: %s", rel)
		}
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	return f, nil
}

// Remove 删除文件，不存在时忽略
func (s *FileStorage) Remove(rel string) error {
	if err := os.Remove(s.resolvePath(rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除文件失败: %w", err)
	}
	return nil
}

// resolvePath 相对路径限制在 basePath 内
func (s *FileStorage) resolvePath(rel string) string {
	clean := filepath.Clean("/" + rel)
	return filepath.Join(s.basePath, clean)
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, s)
	if s == "" {
		return "_"
	}
	return s
}
