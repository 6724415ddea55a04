package downloader

import (
	"fmt"
	"regexp"
	"strconv"

	"hozon/internal/entity"
	"hozon/pkg/ptr"
)

// [download]  45.2% of 10.00MiB at 1.50MiB/s ETA 00:07
// [download]  12.0% of ~ 120.31MiB at  3.20MiB/s ETA 00:31 (frag 4/40)
var reProgress = regexp.MustCompile(`^\[download\]\s+(\d+\.\d+)%.*?\bof\s+(.+?)\s+at\s+(.+?)\s+ETA\s+(\S+)`)

const maxPercent = 100

// ParseProgress turns one line of tool output into a progress update.
// Lines that are not progress lines yield false.
func ParseProgress(line string) (entity.Progress, bool) {
	m := reProgress.FindStringSubmatch(line)
	if m == nil {
		return entity.Progress{}, false
	}

	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		// the pattern only admits digits around a dot
		panic(fmt.Sprintf("downloader: unparsable percent %q in matched line %q: %v", m[1], line, err))
	}

	return entity.Progress{
		Percent:   min(max(percent, 0), maxPercent),
		SizeText:  ptr.NonZero(m[2]),
		SpeedText: ptr.NonZero(m[3]),
		ETAText:   ptr.NonZero(m[4]),
	}, true
}
