package handlers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

func regexMap(r *regexp.Regexp, s string) map[string]string {

	args := r.FindStringSubmatch(s)
	if args == nil {
		return nil
	}

	names := r.SubexpNames()
	m := make(map[string]string, len(args))

	for i, v := range args {
		m[names[i]] = v
	}

	return m
}

func onOff(b bool) string {
	if b {
		return "on"
	}

	return "off"
}

// formatSnapshot renders the queue listing: the current track, then the
// numbered upcoming tracks.
func formatSnapshot(snap service.Snapshot) string {

	if snap.Current == nil && snap.Total == 0 {
		return "the queue is empty"
	}

	var sb strings.Builder
	sb.WriteString("queue:")

	if snap.Current != nil {
		sb.WriteString("\nnow playing: " + snap.Current.DisplayTitle())
	}

	for i, t := range snap.Upcoming {
		sb.WriteString("\n" + strconv.Itoa(i+1) + ". " + t.DisplayTitle())
	}

	if more := snap.Total - len(snap.Upcoming); more > 0 {
		sb.WriteString("\n... and " + strconv.Itoa(more) + " more")
	}

	if snap.Loop {
		sb.WriteString("\nloop: on")
	}

	return sb.String()
}
