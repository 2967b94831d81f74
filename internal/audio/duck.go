package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

const maxVolume = 150

type streamInfo struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// DuckerConfig configures a [Ducker].
type DuckerConfig struct {
	// SelfNames are application.name values that are never touched.
	SelfNames []string

	// Factor scales other streams while ducked.
	Factor float64

	// MinVolume is the floor, in percent, for ducked streams.
	MinVolume int

	// Fade is the length of the volume ramp.
	Fade time.Duration
}

// Ducker fades PulseAudio sink inputs of other applications down while the
// assistant listens or speaks, and back up afterwards.
type Ducker struct {
	mu          sync.Mutex
	active      bool
	cfg         DuckerConfig
	originalVol map[int]int // sink input id -> volume % before ducking

	pactl func(ctx context.Context, args ...string) ([]byte, error)
	sleep func(time.Duration)
}

func NewDucker(cfg DuckerConfig) *Ducker {
	cfg.MinVolume = min(max(cfg.MinVolume, 0), maxVolume)
	cfg.SelfNames = slices.Clone(cfg.SelfNames)

	return &Ducker{
		cfg:         cfg,
		originalVol: make(map[int]int),
		pactl:       runPactl,
		sleep:       time.Sleep,
	}
}

// Duck lowers every foreign stream to current*Factor, not below MinVolume.
// Ducking twice is a no-op.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.listStreams(ctx)
	if err != nil {
		return err
	}

	d.originalVol = make(map[int]int)
	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelfStream(s) {
			continue
		}

		target := math.Min(math.Max(float64(s.Volume)*d.cfg.Factor, float64(d.cfg.MinVolume)), maxVolume)
		d.originalVol[s.ID] = s.Volume
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: int(math.Round(target))})
	}

	if err := d.fade(ctx, targets); err != nil {
		return err
	}
	d.active = true
	return nil
}

// Unduck restores the streams that were ducked. Streams that appeared after
// Duck are left alone.
func (d *Ducker) Unduck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := d.listStreams(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelfStream(s) {
			continue
		}
		orig, ok := d.originalVol[s.ID]
		if !ok {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	if err := d.fade(ctx, targets); err != nil {
		return err
	}
	d.originalVol = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) isSelfStream(s streamInfo) bool {
	return slices.Contains(d.cfg.SelfNames, s.AppName)
}

// fade ramps targets in steps of at least 10ms.
func (d *Ducker) fade(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	if d.cfg.Fade <= 0 {
		for _, t := range targets {
			if err := d.setVolume(ctx, t.id, t.to); err != nil {
				return err
			}
		}
		return nil
	}

	const minStepDuration = 10 * time.Millisecond
	steps := max(int(d.cfg.Fade/minStepDuration), 1)
	stepDuration := d.cfg.Fade / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.setVolume(ctx, t.id, v); err != nil {
				return err
			}
		}

		if i < steps {
			d.sleep(stepDuration)
		}
	}
	return nil
}

func (d *Ducker) listStreams(ctx context.Context) ([]streamInfo, error) {
	out, err := d.pactl(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = min(max(percent, 0), maxVolume)
	if _, err := d.pactl(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)); err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

func runPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []streamInfo {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []streamInfo
	for _, block := range parts[1:] {
		newline := strings.IndexByte(block, '\n')
		if newline <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:newline]))
		if err != nil {
			continue
		}

		s := streamInfo{ID: id}
		for _, line := range strings.Split(block[newline+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			// application.name = "Firefox"
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if i := strings.Index(line, `"`); i >= 0 {
					rest := line[i+1:]
					if j := strings.Index(rest, `"`); j >= 0 {
						s.AppName = rest[:j]
					}
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}
