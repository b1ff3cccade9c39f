// Package serialmux multiplexes the behaviour-rig serial device: one reader
// fans lines out to subscribers (the CSV recorder, the debug tail) and
// commands from any goroutine are serialised onto the port.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/squeakview/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// ErrClosed is returned by SendCommand after Close.
var ErrClosed = errors.New("serialmux: closed")

//go:embed templates/*
var adminTemplateFS embed.FS

// SerialMux fans lines read from a single port out to subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

// NewSerialMux wraps an already opened port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a buffered channel receiving every line read after the
// call. Slow subscribers drop lines rather than stall the reader.
func (s *SerialMux[T]) Subscribe(buffer int) (string, chan string) {
	id := randomID()
	ch := make(chan string, buffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes one newline-terminated command to the port.
func (s *SerialMux[T]) SendCommand(command string) error {
	if s.isClosing() {
		return ErrClosed
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	monitoring.Tracef("[SER->] %s", strings.TrimSpace(command))
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines until ctx is done, the port reaches EOF or Close is
// called. Blank lines are skipped; surrounding whitespace is trimmed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs on its own goroutine so cancellation is
	// observed without waiting for the next line.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return fmt.Errorf("serial read: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return fmt.Errorf("serial read: %w", err)
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			s.publish(line)
		}
	}
}

// Inject publishes a locally generated line (markers) as if it had been
// read from the port.
func (s *SerialMux[T]) Inject(line string) {
	s.publish(line)
}

func (s *SerialMux[T]) publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full skip so as not to block the reader
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Close closes every subscriber channel and then the port. Safe to call
// more than once.
func (s *SerialMux[T]) Close() error {
	s.closeOnce.Do(func() {
		s.closingMu.Lock()
		s.closing = true
		s.closingMu.Unlock()

		s.subscriberMu.Lock()
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
		s.subscriberMu.Unlock()
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

// AttachAdminRoutes mounts the live tail and the command endpoint under
// /debug/ on mux.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial", "live tail of the behaviour serial device", func(w http.ResponseWriter, r *http.Request) {
		f, err := adminTemplateFS.Open("templates/tail.html")
		if err != nil {
			http.Error(w, "Failed to open tail page", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, f)
	})

	debug.HandleSilentFunc("serial-command", s.handleCommand)
	debug.HandleSilentFunc("serial-tail", s.handleTail)
}

func (s *SerialMux[T]) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.SendCommand(command); err != nil {
		http.Error(w, "Failed to write command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
}

// handleTail streams lines as server-sent events.
func (s *SerialMux[T]) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.Subscribe(64)
	defer s.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
