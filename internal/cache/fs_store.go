package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// metaSuffix 是记录扩展名的旁路文件后缀，缓存文件本身只保存图片字节。
const metaSuffix = ".meta"

// NewFileStore 以 filePath 作为唯一缓存文件构建磁盘存储。
// defaultExtension 用于旁路元数据缺失且无法嗅探格式时的回退。
func NewFileStore(filePath, defaultExtension string) (Store, error) {
	if filePath == "" {
		return nil, errors.New("cache file path required")
	}

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache file path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &fileStore{
		filePath:         abs,
		defaultExtension: defaultExtension,
	}, nil
}

// fileStore 通过读写锁保证正文与旁路元数据在进程内一致。
type fileStore struct {
	filePath         string
	defaultExtension string

	mu sync.RWMutex
}

type fileMeta struct {
	Extension   string    `json:"extension"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	WrittenAt   time.Time `json:"written_at"`
}

func (s *fileStore) Stat(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.statPayload()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *fileStore) Get(ctx context.Context) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.statPayload()
	if err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &Entry{
		Payload:   payload,
		Extension: s.extensionFor(payload),
		SizeBytes: int64(len(payload)),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Put(ctx context.Context, payload []byte, extension string, opts PutOptions) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	modTime := resolveModTime(opts)
	metaBytes, err := json.Marshal(fileMeta{
		Extension:   extension,
		ContentType: "image/" + extension,
		SizeBytes:   int64(len(payload)),
		WrittenAt:   modTime,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.filePath)
	payloadTemp, err := writeTemp(dir, payload)
	if err != nil {
		return nil, err
	}
	metaTemp, err := writeTemp(dir, metaBytes)
	if err != nil {
		os.Remove(payloadTemp)
		return nil, err
	}

	if err := os.Chtimes(payloadTemp, modTime, modTime); err != nil {
		os.Remove(payloadTemp)
		os.Remove(metaTemp)
		return nil, err
	}

	// 先替换旁路文件，正文改名才算提交；失败时旧正文与修改时间保持不变。
	if err := os.Rename(metaTemp, s.metaPath()); err != nil {
		os.Remove(payloadTemp)
		os.Remove(metaTemp)
		return nil, err
	}
	if err := os.Rename(payloadTemp, s.filePath); err != nil {
		// 旁路文件已指向新格式，删掉后旧正文由嗅探兜底。
		os.Remove(payloadTemp)
		os.Remove(s.metaPath())
		return nil, err
	}

	return &Entry{
		Payload:   payload,
		Extension: extension,
		SizeBytes: int64(len(payload)),
		ModTime:   modTime,
	}, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) statPayload() (os.FileInfo, error) {
	info, err := os.Stat(s.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return info, nil
}

func (s *fileStore) metaPath() string {
	return s.filePath + metaSuffix
}

// extensionFor 优先读取旁路元数据，其次嗅探正文，最后回退到默认扩展名。
func (s *fileStore) extensionFor(payload []byte) string {
	if raw, err := os.ReadFile(s.metaPath()); err == nil {
		var meta fileMeta
		if json.Unmarshal(raw, &meta) == nil && meta.Extension != "" {
			return meta.Extension
		}
	}
	if ext := sniffExtension(payload); ext != "" {
		return ext
	}
	return s.defaultExtension
}

func sniffExtension(payload []byte) string {
	contentType := http.DetectContentType(payload)
	switch {
	case strings.HasPrefix(contentType, "image/png"):
		return "png"
	case strings.HasPrefix(contentType, "image/jpeg"):
		return "jpeg"
	case strings.HasPrefix(contentType, "image/gif"):
		return "gif"
	case strings.HasPrefix(contentType, "image/webp"):
		return "webp"
	default:
		return ""
	}
}

func writeTemp(dir string, data []byte) (string, error) {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}
