//go:build linux

package hotkey

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// keyboardGlobs locate keyboards when no devices are configured
var keyboardGlobs = []string{
	"/dev/input/by-id/*-event-kbd",
	"/dev/input/by-path/*-event-kbd",
}

// Source captures key presses from evdev keyboards with a single epoll loop
type Source struct {
	devices []string
	matcher *Matcher

	mu      sync.Mutex
	fds     map[int]string
	epfd    int
	wakeR   int
	wakeW   int
	running bool
	done    chan struct{}
}

// NewSource creates a source for devices (empty = autodetect keyboards)
func NewSource(devices []string, bindings []Binding) (*Source, error) {
	m, err := NewMatcher(bindings)
	if err != nil {
		return nil, err
	}
	return &Source{
		devices: devices,
		matcher: m,
		fds:     make(map[int]string),
		epfd:    -1,
	}, nil
}

// Start opens the input devices and begins capturing. Reading /dev/input
// normally requires membership in the "input" group.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("hotkey source already started")
	}

	paths, err := resolveDevices(s.devices)
	if err != nil {
		return err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	s.epfd = epfd

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		s.closeLocked()
		return fmt.Errorf("pipe2: %w", err)
	}
	s.wakeR, s.wakeW = pipe[0], pipe[1]
	if err := s.watch(s.wakeR); err != nil {
		s.closeLocked()
		return err
	}

	for _, path := range paths {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			s.closeLocked()
			return fmt.Errorf("open %s: %w", path, err)
		}
		s.fds[fd] = path
		if err := s.watch(fd); err != nil {
			s.closeLocked()
			return err
		}
		log.Info().Str("device", path).Msg("Capturing hotkeys")
	}

	s.running = true
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Stop ends capturing and releases the devices
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	_, _ = unix.Write(s.wakeW, []byte{0})
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	log.Debug().Msg("Hotkey capture stopped")
}

func (s *Source) watch(fd int) error {
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
	}
	return nil
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)

	const maxEvents = 16
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, inputEventSize*64)

	for {
		n, err := unix.EpollWait(s.epfd, epollEvents, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			log.Error().Err(err).Msg("Hotkey capture failed")
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			if fd == s.wakeR {
				return
			}
			if ctx.Err() != nil {
				return
			}

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				s.detach(fd)
				s.matcher.Reset()
				continue
			}

			s.drain(fd, buf)
		}
	}
}

// detach stops watching a disconnected device and closes it
func (s *Source) detach(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.fds[fd]
	_ = unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	delete(s.fds, fd)
	log.Warn().Str("device", path).Int("remaining", len(s.fds)).Msg("Input device disconnected")
}

// drain reads every pending event from fd
func (s *Source) drain(fd int, buf []byte) {
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				log.Warn().Err(err).Str("device", s.fds[fd]).Msg("Failed to read input device")
			}
			return
		}
		if n <= 0 {
			return
		}

		for _, ev := range decodeEvents(buf[:n]) {
			if ev.Type != evKey {
				continue
			}
			if b, ok := s.matcher.Feed(ev.Code, ev.Value); ok {
				fire(b)
			}
		}
	}
}

func (s *Source) closeLocked() {
	for fd := range s.fds {
		unix.Close(fd)
		delete(s.fds, fd)
	}
	for _, fd := range []int{s.wakeR, s.wakeW, s.epfd} {
		if fd > 0 {
			unix.Close(fd)
		}
	}
	s.wakeR, s.wakeW, s.epfd = 0, 0, -1
}

func resolveDevices(configured []string) ([]string, error) {
	candidates := configured
	if len(candidates) == 0 {
		for _, pattern := range keyboardGlobs {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, matches...)
		}
	}

	seen := make(map[string]bool)
	var paths []string
	for _, c := range candidates {
		resolved, err := filepath.EvalSymlinks(c)
		if err != nil {
			return nil, fmt.Errorf("input device %s: %w", c, err)
		}
		if !seen[resolved] {
			seen[resolved] = true
			paths = append(paths, resolved)
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("no keyboard input devices found")
	}
	sort.Strings(paths)
	return paths, nil
}
