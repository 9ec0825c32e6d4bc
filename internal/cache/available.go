package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultExtract 从索引页中提取 href 链接目标。
const DefaultExtract = `href="([^"]*)"`

// AvailableOptions 控制 Available 的两个数据源。Cache 为空时不列目录，
// Index 为空时不拉取索引页；"." 表示命名空间根目录。
type AvailableOptions struct {
	Cache   string
	Index   string
	Filter  string
	Extract string
}

// Available 返回缓存目录中匹配 Filter 的文件名，与强制刷新后的索引页中
// 用 Extract 提取并经 Filter 过滤的名称的并集，不去重。并集为空时返回 ErrNotFound。
func (c *Client) Available(ctx context.Context, opts AvailableOptions) ([]string, error) {
	if c.Aborted() {
		return nil, ErrCancelled
	}
	filter, err := regexp.Compile(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}

	var names []string
	if opts.Cache != "" {
		listed, err := c.listCache(opts.Cache, filter)
		if err != nil {
			return nil, err
		}
		names = append(names, listed...)
	}

	if opts.Index != "" {
		extracted, err := c.scanIndex(ctx, opts.Index, opts.Extract, filter)
		switch {
		case err == nil:
			names = append(names, extracted...)
		case errors.Is(err, ErrCancelled):
			return nil, err
		default:
			c.logger.WithFields(fetchFields(c.prefix, "", opts.Index)).
				WithError(err).Warn("index_fetch_failed")
		}
	}

	if len(names) == 0 {
		return nil, ErrNotFound
	}
	return names, nil
}

func (c *Client) listCache(dir string, filter *regexp.Regexp) ([]string, error) {
	target := c.root
	if rel := strings.TrimPrefix(path.Clean("/"+dir), "/"); rel != "" {
		target = filepath.Join(c.root, filepath.FromSlash(rel))
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list cache dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, partialSuffix) || strings.HasPrefix(name, ".index.") {
			continue
		}
		if filter.MatchString(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// scanIndex 将索引页强制下载到临时条目，提取后删除。
func (c *Client) scanIndex(ctx context.Context, uri, extract string, filter *regexp.Regexp) ([]string, error) {
	if extract == "" {
		extract = DefaultExtract
	}
	extractor, err := regexp.Compile(extract)
	if err != nil {
		return nil, fmt.Errorf("compile extract: %w", err)
	}

	name := ".index." + uuid.NewString()
	tempPath, err := c.Path(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		os.Remove(tempPath)
		os.Remove(tempPath + partialSuffix)
	}()

	indexPath, err := c.Fetch(ctx, uri, name, AlwaysRefresh, nil)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, match := range extractor.FindAllStringSubmatch(string(body), -1) {
		candidate := match[0]
		if len(match) > 1 {
			candidate = match[1]
		}
		if filter.MatchString(candidate) {
			names = append(names, candidate)
		}
	}
	return names, nil
}
