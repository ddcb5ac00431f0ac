//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// runAuxInput reads volume keys and dial events from /dev/input devices
// (USB remotes, media keyboards) and applies them to the shared counter, so
// the level can be nudged without the rotary encoder. It returns when ctx is
// canceled or the reader fails.
func runAuxInput(ctx context.Context, devices []string, counter *Counter, logger *slog.Logger) error {
	if len(devices) == 0 {
		return nil
	}

	var files []*os.File
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return fmt.Errorf("open input device %s: %w", dev, err)
		}
		files = append(files, f)
		logger.Info("aux input device opened", "device", dev)
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	events := make(chan inputEvent, 16)
	readErr := make(chan error, 1)
	go readInputEventsEpoll(files, events, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return fmt.Errorf("aux input reader: %w", err)
		case ev := <-events:
			applyInputEvent(ev, counter, logger)
		}
	}
}

// applyInputEvent maps one evdev event onto counter ticks.
func applyInputEvent(ev inputEvent, counter *Counter, logger *slog.Logger) {
	switch ev.Type {
	case evKey:
		if ev.Value != evValuePress && ev.Value != evValueRepeat {
			return
		}
		switch ev.Code {
		case keyVolumeUp:
			counter.Up()
		case keyVolumeDown:
			counter.Down()
		default:
			return
		}
		logger.Debug("aux input key", "code", ev.Code, "counter", counter.Value())

	case evRel:
		if ev.Code != relDial && ev.Code != relWheel {
			return
		}
		steps := int(ev.Value)
		for ; steps > 0; steps-- {
			counter.Up()
		}
		for ; steps < 0; steps++ {
			counter.Down()
		}
		logger.Debug("aux input dial", "value", ev.Value, "counter", counter.Value())
	}
}

// readInputEventsEpoll reads from multiple input devices using epoll:
// one goroutine, and the kernel wakes us only when events are available.
func readInputEventsEpoll(files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	// Map file descriptors to files for later identification
	fdToFile := make(map[int]*os.File)

	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
			return
		}
	}

	// Reusable buffers
	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		// Wait for events (blocks until at least one device has data)
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			// Handle interrupted system call (e.g., SIGINT)
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
				return
			}

			if _, err := f.Read(buf); err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			events <- ev
		}
	}
}
