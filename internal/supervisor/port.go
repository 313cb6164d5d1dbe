package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// errFreePortUnsupported - освобождение чужого порта поддерживается только на Windows.
var errFreePortUnsupported = errors.New("freeing a port is not supported on this platform")

// PortInUse сообщает, занят ли TCP-порт на host.
func PortInUse(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}

// ensurePortFree проверяет порт перед запуском; занятый порт пытается
// освободить, ждёт PortReleaseWait и проверяет снова.
func (s *Supervisor) ensurePortFree(ctx context.Context) error {
	if !PortInUse(s.cfg.Host, s.cfg.Port) {
		return nil
	}

	s.logger.Warn("backend port is busy, trying to free it", zap.Int("port", s.cfg.Port))
	if err := s.freePort(ctx, s.cfg.Port, s.logger); err != nil {
		s.logger.Warn("failed to free port", zap.Int("port", s.cfg.Port), zap.Error(err))
	}

	if err := sleepCtx(ctx, s.cfg.PortReleaseWait); err != nil {
		return err
	}
	if PortInUse(s.cfg.Host, s.cfg.Port) {
		return fmt.Errorf("%w: %s:%d", ErrPortBusy, s.cfg.Host, s.cfg.Port)
	}
	return nil
}

// sweepPort освобождает порт после остановки процесса, если он остался занят.
func (s *Supervisor) sweepPort(ctx context.Context) {
	if !PortInUse(s.cfg.Host, s.cfg.Port) {
		return
	}
	if err := s.freePort(ctx, s.cfg.Port, s.logger); err != nil {
		if !errors.Is(err, errFreePortUnsupported) {
			s.logger.Warn("failed to free port", zap.Int("port", s.cfg.Port), zap.Error(err))
		}
		return
	}
	sleepCtx(ctx, s.cfg.PortReleaseWait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseNetstatPIDs достаёт PID процессов, слушающих port, из вывода `netstat -ano`.
//
//	TCP    127.0.0.1:8000    0.0.0.0:0    LISTENING    4242
func parseNetstatPIDs(out []byte, port int) []int {
	suffix := []byte(":" + strconv.Itoa(port))
	seen := map[int]bool{}
	var pids []int

	for _, line := range bytes.Split(out, []byte("\n")) {
		fields := bytes.Fields(line)
		if len(fields) < 5 || !bytes.EqualFold(fields[0], []byte("TCP")) {
			continue
		}
		if !bytes.HasSuffix(fields[1], suffix) || !bytes.EqualFold(fields[3], []byte("LISTENING")) {
			continue
		}
		pid, err := strconv.Atoi(string(fields[len(fields)-1]))
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids
}

// lineWriter пишет вывод процесса в лог построчно.
type lineWriter struct {
	logger *zap.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

const maxLineLength = 64 * 1024

func newLineWriter(logger *zap.Logger, stream string) *lineWriter {
	return &lineWriter{logger: logger.Named("backend"), stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		w.emit(w.buf[:idx])
		w.buf = w.buf[idx+1:]
	}
	if len(w.buf) > maxLineLength {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Flush пишет остаток без перевода строки.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Info(string(line), zap.String("stream", w.stream))
}
