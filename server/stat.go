//go:build linux

package server

import (
	"time"

	"golang.org/x/sys/unix"
)

// statModTime converts a raw stat's modification timestamp into a
// time.Time for the Last-Modified header (spec §4.2 "prepare-header").
func statModTime(st unix.Stat_t) time.Time {
	return time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
}
