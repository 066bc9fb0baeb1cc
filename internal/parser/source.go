package parser

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

const (
	// objectsShare is the part of the bar covered by object transfer.
	objectsShare = 0.8
	// deltasShare is the part of the bar covered by delta resolution.
	deltasShare = 0.2
)

var (
	receivingObjectsPattern = regexp.MustCompile(`(?i)receiving objects:\s*(\d{1,3})%`)
	resolvingDeltasPattern  = regexp.MustCompile(`(?i)resolving deltas:\s*(\d{1,3})%`)
)

// SourceParser maps git transfer output to SourceProgress.
type SourceParser struct {
	mu  sync.Mutex
	max float64
}

// NewSourceParser returns a parser at 0%.
func NewSourceParser() *SourceParser {
	return new(SourceParser)
}

// Reset starts a new run at 0%.
func (p *SourceParser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.max = 0
}

// Parse returns the progress carried by line, if any.
func (p *SourceParser) Parse(line string) (update.SourceProgress, bool) {
	var percent float64

	if n, ok := matchPercent(receivingObjectsPattern, line); ok {
		percent = float64(n) * objectsShare
	} else if n, ok = matchPercent(resolvingDeltasPattern, line); ok {
		percent = objectsShare*100 + float64(n)*deltasShare
	} else {
		return update.SourceProgress{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.max = max(p.max, percent)

	return update.SourceProgress{Percent: p.max}, true
}

func matchPercent(pattern *regexp.Regexp, line string) (int, bool) {
	m := pattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n > 100 {
		return 0, false
	}

	return n, true
}
