package logger

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// AsyncHook ghi log bất đồng bộ vào nhiều writers (file, stdout) trong một goroutine riêng.
// Job reconcile phải gọi Shutdown() trước khi thoát để không mất log cuối.
type AsyncHook struct {
	writers []io.Writer
	entries chan *logrus.Entry
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewAsyncHookWithWriters tạo một async hook mới với nhiều writers
// bufferSize: kích thước buffer cho log entries (mặc định 1000)
func NewAsyncHookWithWriters(writers []io.Writer, bufferSize int) *AsyncHook {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	hook := &AsyncHook{
		writers: writers,
		entries: make(chan *logrus.Entry, bufferSize),
	}

	hook.wg.Add(1)
	go hook.processEntries()

	return hook
}

// Levels trả về các log levels mà hook này xử lý
func (h *AsyncHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire đưa entry vào channel; khi channel đầy thì ghi đồng bộ
// (job offline: thà chậm còn hơn mất dòng audit)
func (h *AsyncHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return h.write(entry)
	}

	// Entry bị logrus tái sử dụng sau Fire, phải copy trước khi đưa sang goroutine khác
	dup := entry.Dup()
	dup.Level = entry.Level
	dup.Message = entry.Message
	dup.Caller = entry.Caller

	select {
	case h.entries <- dup:
		return nil
	default:
		return h.write(dup)
	}
}

// processEntries xử lý log entries trong một goroutine riêng
func (h *AsyncHook) processEntries() {
	defer h.wg.Done()

	for entry := range h.entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Fprintf(os.Stderr, "[LOGGER PANIC] Logger goroutine panic recovered: %v\n", r)
					debug.PrintStack()
				}
			}()
			_ = h.write(entry)
		}()
	}
}

// write format entry và ghi vào tất cả writers
func (h *AsyncHook) write(entry *logrus.Entry) error {
	// FilterHook đã đánh dấu entry bị filter bằng field "_filtered"
	if filtered, ok := entry.Data["_filtered"].(bool); ok && filtered {
		return nil
	}
	if _, ok := entry.Data["_filtered"]; ok {
		entry = entry.Dup()
		delete(entry.Data, "_filtered")
	}

	var data []byte
	var err error
	if entry.Logger != nil && entry.Logger.Formatter != nil {
		data, err = entry.Logger.Formatter.Format(entry)
	} else {
		var line string
		line, err = entry.String()
		data = []byte(line)
	}
	if err != nil {
		return err
	}

	for _, writer := range h.writers {
		// Writer lỗi không chặn các writer còn lại
		_, _ = writer.Write(data)
	}
	return nil
}

// Close đóng hook và đợi tất cả entries được xử lý xong
func (h *AsyncHook) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.entries)
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}
