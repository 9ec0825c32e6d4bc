package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/any-hub/any-globe/internal/metrics"
)

// Fetch 按 mode 将 uri 对应的内容落到 <root>/<name>，返回最终文件路径。
// 同名条目的下载通过 entryLock 串行化。
func (c *Client) Fetch(ctx context.Context, uri, name string, mode Mode, progress ProgressFunc) (string, error) {
	if c.Aborted() {
		return "", ErrCancelled
	}
	finalPath, err := c.Path(name)
	if err != nil {
		return "", err
	}
	if mode == LocalOnly {
		return finalPath, nil
	}

	unlock := c.lockEntry(name)
	defer unlock()

	if mode == FetchOnceIfAbsent && fileExists(finalPath) {
		metrics.FetchCacheHits.WithLabelValues(c.prefix).Inc()
		return finalPath, nil
	}
	if c.Aborted() {
		return "", ErrCancelled
	}

	ctx, stop := c.bind(ctx)
	defer stop()

	started := time.Now()
	fields := fetchFields(c.prefix, name, uri)
	err = c.download(ctx, uri, finalPath, mode, progress)
	metrics.FetchLatency.WithLabelValues(c.prefix).Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		metrics.FetchRequests.WithLabelValues(c.prefix, metrics.ResultOK).Inc()
		c.logger.WithFields(fields).WithField("mode", mode.String()).Debug("fetch_complete")
		return finalPath, nil
	case errors.Is(err, ErrCancelled):
		metrics.FetchRequests.WithLabelValues(c.prefix, metrics.ResultCancelled).Inc()
		c.logger.WithFields(fields).Debug("fetch_cancelled")
		return "", err
	default:
		metrics.FetchRequests.WithLabelValues(c.prefix, metrics.ResultError).Inc()
		c.logger.WithFields(fields).WithError(err).Warn("fetch_failed")
		return "", err
	}
}

func (c *Client) download(ctx context.Context, uri, finalPath string, mode Mode, progress ProgressFunc) error {
	part, err := openPartial(finalPath)
	if err != nil {
		return fmt.Errorf("open partial: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			part.Close()
		}
	}()

	// 强制刷新时旧的 partial 可能来自旧版本内容，不能拼接。
	if mode == AlwaysRefresh && part.offset > 0 {
		if err := part.reset(); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if part.offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(part.offset, 10)+"-")
	}
	if mode == AlwaysRefresh {
		req.Header.Set("Cache-Control", "max-age=0")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.cancelled(ctx) {
			return ErrCancelled
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, uri, part.offset > 0); err != nil {
		if !errors.Is(err, ErrRangeSatisfied) {
			return err
		}
		// 416：partial 已完整。
		committed = true
		return part.commit(finalPath)
	}

	if resp.StatusCode != http.StatusPartialContent && part.offset > 0 {
		// 上游忽略了 Range，从头写入。
		if err := part.reset(); err != nil {
			return err
		}
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = part.offset + resp.ContentLength
	}
	downloaded := part.offset
	bytesCounter := metrics.FetchBytes.WithLabelValues(c.prefix)
	_, err = copyWithContext(ctx, part, resp.Body, func(n int) {
		downloaded += int64(n)
		bytesCounter.Add(float64(n))
		c.post(progress, finalPath, downloaded, total)
	})
	if err != nil {
		if c.cancelled(ctx) {
			return ErrCancelled
		}
		return fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	committed = true
	if err := part.commit(finalPath); err != nil {
		return fmt.Errorf("commit %s: %w", finalPath, err)
	}
	return nil
}

// checkStatus 将 2xx 视为成功；只有带了 Range 的请求才把 416 视为 ErrRangeSatisfied，
// 其余返回 *StatusError。
func checkStatus(resp *http.Response, uri string, ranged bool) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && ranged:
		return ErrRangeSatisfied
	default:
		return &StatusError{Status: resp.StatusCode, URI: uri}
	}
}

func (c *Client) cancelled(ctx context.Context) bool {
	return c.Aborted() || errors.Is(ctx.Err(), context.Canceled)
}

// Exists 判断最终文件是否已在缓存中。
func (c *Client) Exists(name string) bool {
	filePath, err := c.Path(name)
	if err != nil {
		return false
	}
	return fileExists(filePath)
}
