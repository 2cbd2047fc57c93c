package honey

import (
	"time"

	"github.com/ppiankov/backupsentry/internal/model"
)

// pump moves events from in to out through an unbounded buffer so a slow
// consumer never causes an access to be dropped. After stop is closed it
// drains in, keeps delivering for up to grace, then closes out.
func pump(in <-chan model.AlertEvent, out chan<- model.AlertEvent, stop <-chan struct{}, grace time.Duration) {
	defer close(out)
	var buf []model.AlertEvent

	for {
		var send chan<- model.AlertEvent
		var next model.AlertEvent
		if len(buf) > 0 {
			send = out
			next = buf[0]
		}

		select {
		case ev := <-in:
			buf = append(buf, ev)
		case send <- next:
			buf = buf[1:]
		case <-stop:
		drain:
			for {
				select {
				case ev := <-in:
					buf = append(buf, ev)
				default:
					break drain
				}
			}
			flush(buf, out, grace)
			return
		}
	}
}

func flush(buf []model.AlertEvent, out chan<- model.AlertEvent, grace time.Duration) {
	if len(buf) == 0 {
		return
	}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for _, ev := range buf {
		select {
		case out <- ev:
		case <-deadline.C:
			return
		}
	}
}
