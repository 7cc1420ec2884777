// Package jsonl 实现异步 JSONL 文件写入。
// 调用方只投递记录，JSON 编码与文件 I/O 在后台 goroutine 完成；
// 定价与采样结果通过 PriceSink / SampleSink 写入。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("writer 已关闭")

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Writer 异步 JSONL 写入器
type Writer struct {
	// path 输出文件路径
	path string
	// ch 操作通道
	ch chan op

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	// sendMu 保证 Close 之后不再向 ch 发送
	sendMu sync.Mutex

	// written 成功写入的记录数
	written atomic.Int64
	// failed 编码或写入失败的记录数
	failed atomic.Int64

	wg sync.WaitGroup
}

// NewWriter 创建 JSONL 写入器（追加模式）
// 参数 path: 输出文件路径，目录不存在时自动创建
// 参数 bufferSize: 投递队列长度，队列满时 Write 阻塞
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path: path,
		ch:   make(chan op, bufferSize),
	}

	w.wg.Add(1)
	go w.loop(f)

	return w, nil
}

// Path 输出文件路径
func (w *Writer) Path() string {
	return w.path
}

// Write 投递一条记录
func (w *Writer) Write(v any) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	return w.send(op{typ: opWrite, val: v})
}

// WriteAll 按顺序投递多条记录
func WriteAll[T any](w *Writer, records []T) error {
	for i := range records {
		if err := w.Write(records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Flush 等待已投递的记录写入文件
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	done := make(chan error, 1)
	if err := w.send(op{typ: opFlush, done: done}); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	return <-done
}

func (w *Writer) send(o op) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.closed.Load() {
		return ErrClosed
	}
	w.ch <- o
	return nil
}

// Close 关闭写入器（会先 flush），可重复调用
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.sendMu.Lock()
		defer w.sendMu.Unlock()
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		w.closeErr = <-done
		close(w.ch)
	})
	w.wg.Wait()
	return w.closeErr
}

// Written 成功写入的记录数
func (w *Writer) Written() int64 {
	return w.written.Load()
}

// Failed 编码或写入失败的记录数
func (w *Writer) Failed() int64 {
	return w.failed.Load()
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20) // 1MB buffer
	reply := func(err error, done chan error) {
		if done != nil {
			done <- err
		}
	}

	for req := range w.ch {
		switch req.typ {
		case opWrite:
			b, err := json.Marshal(req.val)
			if err != nil {
				w.failed.Add(1)
				continue
			}
			b = append(b, '\n')
			if _, err := bw.Write(b); err != nil {
				w.failed.Add(1)
				continue
			}
			w.written.Add(1)
		case opFlush:
			reply(bw.Flush(), req.done)
		case opClose:
			reply(bw.Flush(), req.done)
			return
		}
	}
}
