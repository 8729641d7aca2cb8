package rag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CorpusBuilder 重建政策语料，*Indexer 实现此接口
type CorpusBuilder interface {
	Build(ctx context.Context, dir string, opts BuildOptions) (*BuildReport, error)
}

// PolicyWatcher 监听政策目录，文件变化静默一段时间后整体重建索引。
// 删除或重命名的文件会留下旧分块，因此重建总是先清空索引。
type PolicyWatcher struct {
	watcher  *fsnotify.Watcher
	builder  CorpusBuilder
	dir      string
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	pending bool
}

// NewPolicyWatcher 创建目录监听器
func NewPolicyWatcher(dir string, builder CorpusBuilder, debounce time.Duration, logger *zap.Logger) (*PolicyWatcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("监听目录 %q 失败: %w", dir, err)
	}

	return &PolicyWatcher{
		watcher:  w,
		builder:  builder,
		dir:      dir,
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Run 阻塞直到 ctx 取消
func (w *PolicyWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("政策目录变化", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.rebuild(ctx) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("文件监听错误", zap.Error(err))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// rebuild 同一时间只运行一次；运行期间的新变化合并为一次补充重建
func (w *PolicyWatcher) rebuild(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.pending = true
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	for {
		if ctx.Err() != nil {
			break
		}
		report, err := w.builder.Build(ctx, w.dir, BuildOptions{Reset: true})
		if err != nil {
			w.logger.Error("政策索引自动重建失败", zap.String("dir", w.dir), zap.Error(err))
		} else {
			w.logger.Info("政策索引已自动重建",
				zap.Int("chunks", report.Chunks),
				zap.Duration("duration", report.Duration),
			)
		}

		w.mu.Lock()
		if !w.pending {
			w.running = false
			w.mu.Unlock()
			return
		}
		w.pending = false
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.running = false
	w.pending = false
	w.mu.Unlock()
}
