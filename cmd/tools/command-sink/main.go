// Package main is a stand-in for the game's command listener. It accepts
// TCP connections, prints every command line received, and reports
// per-second totals.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/banshee-data/gesture.control/internal/dispatch"
)

func main() {
	listen := flag.String("listen", dispatch.DefaultAddress, "Address to accept command connections on")
	quiet := flag.Bool("quiet", false, "Only print per-second totals")
	flag.Parse()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("command sink listening on %s\n", ln.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := NewSink(os.Stdout)
	sink.Quiet = *quiet
	go sink.Report(ctx, time.Second)

	if err := sink.Serve(ctx, ln); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("total: %s\n", sink.Totals())
}

// Sink counts and echoes newline-terminated commands.
type Sink struct {
	Quiet bool

	out   io.Writer
	outMu sync.Mutex

	count atomic.Int64

	mu     sync.Mutex
	totals map[string]int
}

func NewSink(out io.Writer) *Sink {
	return &Sink{out: out, totals: make(map[string]int)}
}

// Serve accepts connections on ln until ctx is cancelled. Each connection is
// read in its own goroutine.
func (s *Sink) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	var conns sync.Map
	defer conns.Range(func(k, _ any) bool {
		k.(net.Conn).Close()
		return true
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		conns.Store(conn, struct{}{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conns.Delete(conn)
			s.handle(conn)
		}()
	}
}

func (s *Sink) handle(conn net.Conn) {
	defer conn.Close()
	s.printf("connected: %s\n", conn.RemoteAddr())

	scan := bufio.NewScanner(conn)
	for scan.Scan() {
		cmd := strings.TrimSpace(scan.Text())
		if cmd == "" {
			continue
		}
		s.count.Add(1)
		s.mu.Lock()
		s.totals[cmd]++
		s.mu.Unlock()
		if !s.Quiet {
			s.printf("%s %s\n", time.Now().Format("15:04:05.000"), cmd)
		}
	}
	s.printf("disconnected: %s\n", conn.RemoteAddr())
}

// Report prints the number of commands received in each interval until ctx
// is cancelled. Quiet intervals are not printed.
func (s *Sink) Report(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.count.Swap(0); n > 0 {
				s.printf("received: %d commands/%s\n", n, interval)
			}
		}
	}
}

// Counts returns the number of times each command has been received.
func (s *Sink) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out
}

// Totals formats Counts as "cmd=n" pairs in command order.
func (s *Sink) Totals() string {
	counts := s.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

func (s *Sink) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
