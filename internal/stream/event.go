// Package stream subscribes to the backend's server-sent progress events.
package stream

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/raphaelgruber/vamos-go/internal/models"
)

// Backend status keys carried in the third field of an event.
const (
	statusProcessing = "processing"
	statusDone       = "done"
	statusError      = "error"
)

// Update is one normalized progress event.
type Update struct {
	Percent int
	Stage   models.Stage
	Status  string
	// Terminal is set only for the explicit success marker: status "done" at 100%.
	Terminal bool
	// Warning is set when the event was malformed. Such updates carry no
	// progress and must not be merged, but they prove the stream is alive.
	Warning string
	Raw     string
}

// Label returns the display text for the update's stage.
func (u Update) Label() string {
	return u.Stage.Label()
}

// ParseEvent decodes "<percent>,<stage>,<status>".
// Malformed input never fails: it yields an Update with Warning set.
func ParseEvent(data string) Update {
	raw := strings.TrimSpace(data)
	u := Update{Raw: raw, Stage: models.StageUnknown}

	fields := strings.Split(raw, ",")
	if len(fields) < 2 {
		u.Warning = fmt.Sprintf("expected percent,stage,status but got %q", raw)
		return u
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	u.Status = statusProcessing
	if len(fields) > 2 && fields[2] != "" {
		u.Status = strings.ToLower(fields[2])
	}
	u.Stage = models.ParseStage(fields[1])

	percent, err := parsePercent(fields[0])
	if err != nil {
		u.Warning = err.Error()
		return u
	}
	u.Percent = percent
	u.Terminal = u.Status == statusDone && u.Percent >= 100
	return u
}

// parsePercent accepts integers and decimals, truncating toward zero.
func parsePercent(text string) (int, error) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("percent %q is not a number", text)
	}
	if f < 0 || f > 100 {
		return 0, fmt.Errorf("percent %q is out of range", text)
	}
	return int(math.Trunc(f)), nil
}

// Failed reports whether the backend flagged the job as errored.
func (u Update) Failed() bool {
	return u.Status == statusError
}
