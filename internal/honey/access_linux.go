//go:build linux

package honey

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ppiankov/backupsentry/internal/model"
)

// inotifySource reports open and read access to token files. fsnotify does
// not expose IN_OPEN/IN_ACCESS, so this talks to inotify directly.
type inotifySource struct {
	f     *os.File
	paths map[int32]string
}

func newAccessSource(paths []string) (accessSource, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}
	s := &inotifySource{paths: make(map[int32]string, len(paths))}
	for _, p := range paths {
		wd, err := unix.InotifyAddWatch(fd, p, unix.IN_OPEN|unix.IN_ACCESS)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("inotify watch %s: %w", p, err)
		}
		s.paths[int32(wd)] = p
	}
	// A non-blocking fd wrapped in os.File uses the runtime poller, so
	// Close unblocks a pending Read.
	s.f = os.NewFile(uintptr(fd), "inotify")
	return s, nil
}

func (s *inotifySource) run(emit func(path, op string)) {
	buf := make([]byte, 4096*unix.SizeofInotifyEvent)
	for {
		n, err := s.f.Read(buf)
		if err != nil {
			return
		}
		for off := 0; off+unix.SizeofInotifyEvent <= n; {
			ev := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
			off += unix.SizeofInotifyEvent + int(ev.Len)

			if ev.Mask&unix.IN_Q_OVERFLOW != 0 {
				// Events were lost; report every token rather than none.
				for _, p := range s.paths {
					emit(p, "overflow")
				}
				continue
			}
			p, ok := s.paths[ev.Wd]
			if !ok {
				continue
			}
			switch {
			case ev.Mask&unix.IN_OPEN != 0:
				emit(p, "open")
			case ev.Mask&unix.IN_ACCESS != 0:
				emit(p, "access")
			}
		}
	}
}

func (s *inotifySource) Close() error {
	return s.f.Close()
}

// lookupActor finds a process other than this one holding target open.
// Best effort: short-lived readers are usually gone by the time we look.
func lookupActor(target string) *model.ActorContext {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	self := os.Getpid()
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		fdDir := filepath.Join("/proc", e.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			if link, err := os.Readlink(filepath.Join(fdDir, fd.Name())); err == nil && link == target {
				return processActor(pid)
			}
		}
	}
	return nil
}

func processActor(pid int) *model.ActorContext {
	a := &model.ActorContext{PID: pid}
	if comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); err == nil {
		a.Process = strings.TrimSpace(string(comm))
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return a
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "Uid:" {
			a.User = fields[1]
			if u, err := user.LookupId(fields[1]); err == nil {
				a.User = u.Username
			}
			break
		}
	}
	return a
}
