package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

const (
	// unitsBasePercent is where per-unit progress starts.
	unitsBasePercent = 15
	// unitsSpanPercent is the share of the bar covered by unit builds.
	unitsSpanPercent = 70
	// fetchFloorPercent is the floor once downloads are announced.
	fetchFloorPercent = 5
	// installFloorPercent is the floor of the install phase.
	installFloorPercent = 88
	// postInstallFloorPercent is the floor of the post-installation phase.
	postInstallFloorPercent = 92
	// bootloaderFloorPercent is the floor of the bootloader phase.
	bootloaderFloorPercent = 95
)

// Nix prefixes builder output with "<name>> "; keywords may follow that prefix.
const phasePrefix = `(?i)(?:^|>\s*)`

var (
	derivationsPattern = regexp.MustCompile(`(?i)\b(?:these (\d+) derivations|this derivation) will be built`)
	fetchPattern       = regexp.MustCompile(`(?i)\b(?:these (\d+) paths|this path) will be (?:fetched|copied)`)
	unitPattern        = regexp.MustCompile(`(?i)\bbuilding '([^']+)'`)
	bootloaderPattern  = regexp.MustCompile(
		`(?i)\b(?:updating grub|updating systemd-boot|installing (?:the )?boot ?loader|updating boot ?loader)`)
	systemConfigPattern = regexp.MustCompile(`(?i)\bbuilding the system configuration`)
	postInstallPattern  = regexp.MustCompile(phasePrefix + `(?:post-installation fixup|running phase: fixupPhase)`)
	installingPattern   = regexp.MustCompile(phasePrefix + `(?:installing\b|running phase: installPhase)`)
	unpackingPattern    = regexp.MustCompile(phasePrefix + `(?:unpacking sources|running phase: unpackPhase)`)
	patchingPattern     = regexp.MustCompile(phasePrefix + `(?:patching sources|applying patch|running phase: patchPhase)`)
	configuringPattern  = regexp.MustCompile(phasePrefix + `(?:configuring\b|running phase: configurePhase)`)
	compilingPattern    = regexp.MustCompile(phasePrefix + `(?:compiling\b|build flags:|running phase: buildPhase)`)
)

// keywordPhase maps a log pattern to a fixed phase label and percent floor.
type keywordPhase struct {
	pattern *regexp.Regexp
	label   string
	floor   int
}

// keywordPhases are checked in order; the first match wins.
//
//nolint:gochecknoglobals // Static lookup table.
var keywordPhases = []keywordPhase{
	{pattern: systemConfigPattern, label: "Building system configuration..."},
	{pattern: postInstallPattern, label: "Running post-installation steps...", floor: postInstallFloorPercent},
	{pattern: installingPattern, label: "Installing...", floor: installFloorPercent},
	{pattern: unpackingPattern, label: "Unpacking sources..."},
	{pattern: patchingPattern, label: "Applying patches..."},
	{pattern: configuringPattern, label: "Configuring..."},
	{pattern: compilingPattern, label: "Compiling..."},
}

// BuildTracker is the build progress state of one run.
type BuildTracker struct {
	// TotalUnits is the number of derivations announced for building.
	TotalUnits int
	// CompletedUnits counts build starts seen so far.
	CompletedUnits int
	// Phase is the last phase label emitted.
	Phase string
	// Unit is the display name of the last unit started.
	Unit string
	// MaxPercent is the highest percent emitted in this run.
	MaxPercent int

	finalizeSignalled bool
}

// BuildParser maps installation script output to BuildProgress events.
type BuildParser struct {
	mu      sync.Mutex
	tracker BuildTracker
}

// NewBuildParser returns a parser with an empty tracker.
func NewBuildParser() *BuildParser {
	return new(BuildParser)
}

// Reset clears the tracker for a new run.
func (p *BuildParser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tracker = BuildTracker{}
}

// Tracker returns a copy of the current tracker.
func (p *BuildParser) Tracker() BuildTracker {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.tracker
}

// Parse returns the events carried by line; nil when the line is not recognised.
// A bootloader line additionally yields a StepChange into finalize, once per run.
func (p *BuildParser) Parse(line string) []update.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := &p.tracker

	if m := derivationsPattern.FindStringSubmatch(line); m != nil {
		t.TotalUnits = countOrOne(m[1])
		t.CompletedUnits = 0

		return []update.Event{
			t.emit(fmt.Sprintf("Preparing to build %d packages...", t.TotalUnits), 0),
		}
	}

	if m := fetchPattern.FindStringSubmatch(line); m != nil {
		return []update.Event{
			t.emit(fmt.Sprintf("Downloading %d packages...", countOrOne(m[1])), fetchFloorPercent),
		}
	}

	if m := unitPattern.FindStringSubmatch(line); m != nil {
		t.CompletedUnits++
		t.Unit = unitName(m[1])

		percent := unitsBasePercent
		if t.TotalUnits > 0 {
			ratio := min(float64(t.CompletedUnits)/float64(t.TotalUnits), 1)
			percent = unitsBasePercent + int(ratio*unitsSpanPercent)
		}

		label := fmt.Sprintf("Building %s...", t.Unit)
		if t.TotalUnits > 0 {
			label = fmt.Sprintf("Building %s... (%d/%d)", t.Unit, t.CompletedUnits, t.TotalUnits)
		}

		return []update.Event{t.emit(label, percent)}
	}

	if bootloaderPattern.MatchString(line) {
		events := make([]update.Event, 0, 2)

		if !t.finalizeSignalled {
			t.finalizeSignalled = true
			events = append(events, update.StepChange{Step: update.StepFinalize, Status: update.StatusInProgress})
		}

		return append(events, t.emit("Updating bootloader...", bootloaderFloorPercent))
	}

	for _, phase := range keywordPhases {
		if phase.pattern.MatchString(line) {
			return []update.Event{t.emit(phase.label, phase.floor)}
		}
	}

	return nil
}

// emit raises MaxPercent to at least percent and returns the event.
func (t *BuildTracker) emit(label string, percent int) update.BuildProgress {
	t.MaxPercent = min(max(t.MaxPercent, percent), 100)
	t.Phase = label

	return update.BuildProgress{
		Phase:     label,
		Percent:   t.MaxPercent,
		Unit:      t.Unit,
		Completed: t.CompletedUnits,
		Total:     t.TotalUnits,
	}
}

// unitName strips the store directory, the hash prefix and the .drv suffix:
// "/nix/store/<hash>-hello-2.12.drv" becomes "hello-2.12".
func unitName(path string) string {
	name := path[strings.LastIndex(path, "/")+1:]
	name = strings.TrimSuffix(name, ".drv")

	if i := strings.IndexByte(name, '-'); i >= 0 && i+1 < len(name) {
		name = name[i+1:]
	}

	return name
}

func countOrOne(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 1
	}

	return n
}
