package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

const partialSuffix = ".part"

// partialWriter 以追加方式写入 <name>.part，offset 为打开时已有的字节数。
type partialWriter struct {
	path   string
	file   *os.File
	offset int64
}

func openPartial(finalPath string) (*partialWriter, error) {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, err
	}
	partPath := finalPath + partialSuffix
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &partialWriter{path: partPath, file: f, offset: info.Size()}, nil
}

func (w *partialWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// reset 清空 partial，上游忽略 Range 返回完整内容或强制刷新时使用。
func (w *partialWriter) reset() error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate partial: %w", err)
	}
	w.offset = 0
	return nil
}

func (w *partialWriter) Close() error {
	return w.file.Close()
}

// commit 关闭并将 partial 原子地重命名为最终文件，覆盖旧版本。
func (w *partialWriter) commit(finalPath string) error {
	if err := w.file.Close(); err != nil {
		return err
	}
	return os.Rename(w.path, finalPath)
}
