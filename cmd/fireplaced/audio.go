package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Audio is the controller's sound collaborator: crackling-fire tracks that
// start with the run, follow the shared volume level and stop on cleanup.
type Audio interface {
	Play() error
	SetVolume(pct float64)
	Close() error
}

// mpg123Player drives an mpg123 subprocess in remote-control mode. Decoding
// and mixing stay in mpg123; we only issue LOAD/VOLUME/QUIT commands and
// watch its status lines to advance the playlist.
type mpg123Player struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	mu       sync.Mutex
	playlist []string
	next     int
	closed   bool
}

// openMPG123 lists the mp3 files under dir (sorted, so playback order is
// stable) and starts mpg123 in remote mode on the given ALSA device.
func openMPG123(dir, device string, logger *slog.Logger) (*mpg123Player, error) {
	playlist, err := filepath.Glob(filepath.Join(dir, "*.mp3"))
	if err != nil {
		return nil, fmt.Errorf("scan audio dir %s: %w", dir, err)
	}
	if len(playlist) == 0 {
		return nil, fmt.Errorf("no mp3 files in %s", dir)
	}
	sort.Strings(playlist)

	args := []string{"-R"}
	if device != "" {
		args = append(args, "-a", device)
	}
	cmd := exec.Command("mpg123", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mpg123 stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mpg123 stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mpg123: %w", err)
	}

	p := &mpg123Player{
		cmd:      cmd,
		stdin:    stdin,
		logger:   logger,
		playlist: playlist,
	}
	go p.monitor(stdout)

	logger.Info("audio player started", "tracks", len(playlist), "device", device)
	return p, nil
}

// monitor consumes mpg123's status stream. "@P 0" marks the end of the
// current track; we cycle to the next one so the fire never goes quiet.
func (p *mpg123Player) monitor(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "@P 0":
			if err := p.Play(); err != nil {
				p.logger.Warn("advancing playlist failed", "error", err)
				return
			}
		case strings.HasPrefix(line, "@E"):
			p.logger.Warn("mpg123 error", "line", line)
		}
	}
}

// Play loads the next playlist entry, wrapping around at the end.
func (p *mpg123Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("audio player closed")
	}
	track := p.playlist[p.next]
	p.next = (p.next + 1) % len(p.playlist)
	return p.send("LOAD " + track)
}

// SetVolume maps the counter's 0–100 level straight onto mpg123's percent
// scale. Send errors are logged, not returned: volume is advisory.
func (p *mpg123Player) SetVolume(pct float64) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if err := p.send(fmt.Sprintf("VOLUME %.0f", pct)); err != nil {
		p.logger.Warn("set volume failed", "error", err)
	}
}

// Close asks mpg123 to quit and kills it if it lingers.
func (p *mpg123Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	err := p.send("QUIT")
	p.stdin.Close()
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		p.logger.Warn("mpg123 did not exit, killing")
		p.cmd.Process.Kill()
		<-done
	}
	return err
}

// send writes one remote-control command; callers hold p.mu.
func (p *mpg123Player) send(cmd string) error {
	if _, err := io.WriteString(p.stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("mpg123 command %q: %w", strings.Fields(cmd)[0], err)
	}
	return nil
}

// nopAudio is used when no audio directory is configured.
type nopAudio struct{}

func (nopAudio) Play() error       { return nil }
func (nopAudio) SetVolume(float64) {}
func (nopAudio) Close() error      { return nil }
