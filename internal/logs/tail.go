package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineSize  = 1 << 20
)

// TailOptions selects what Tail returns. A negative Offset returns the last
// Limit lines; otherwise lines after Offset are returned. Follow waits up to
// Wait for new lines when none are available. Lines not containing Match are
// skipped when Match is set.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Match  string
}

// TailResult holds the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads the log file at path. A missing file yields no lines and offset 0.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return TailResult{}, nil
	case err != nil:
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	case info.IsDir():
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	var result TailResult
	if opts.Offset < 0 {
		result, err = readLast(path, opts.Limit, opts.Match)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// The file was rotated or truncated; resume at its end.
			offset = info.Size()
		}
		result, err = readFrom(path, offset, opts.Match)
	}
	if err != nil || !opts.Follow || opts.Wait <= 0 || len(result.Lines) > 0 {
		return result, err
	}
	return waitForLines(ctx, path, result.Offset, opts.Wait, opts.Match)
}

// scan calls fn for each line of r that contains match.
func scan(r io.Reader, match string, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if match == "" || strings.Contains(line, match) {
			fn(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	return nil
}

func readLast(path string, limit int, match string) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var ring []string
	if limit > 0 {
		ring = make([]string, 0, limit)
		err = scan(file, match, func(line string) {
			if len(ring) == limit {
				ring = append(ring[:0], ring[1:]...)
			}
			ring = append(ring, line)
		})
		if err != nil {
			return TailResult{}, err
		}
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}
	return TailResult{Lines: ring, Offset: end}, nil
}

func readFrom(path string, offset int64, match string) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	if err := scan(file, match, func(line string) { lines = append(lines, line) }); err != nil {
		return TailResult{Offset: offset}, err
	}
	end, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("determine log offset: %w", err)
	}
	return TailResult{Lines: lines, Offset: end}, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration, match string) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
		next, err := readFrom(path, result.Offset, match)
		if err != nil {
			return result, err
		}
		result = next
		if len(result.Lines) > 0 || time.Now().After(deadline) {
			return result, nil
		}
	}
}
