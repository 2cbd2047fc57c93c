//go:build !linux

package honey

import "github.com/ppiankov/backupsentry/internal/model"

// Open/read notifications need inotify; elsewhere the fsnotify source still
// reports writes, renames, removals and chmods.
func newAccessSource([]string) (accessSource, error) {
	return noAccess(), nil
}

func lookupActor(string) *model.ActorContext { return nil }
