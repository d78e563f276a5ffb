package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hydropi/hydropi/controller"
)

// AlertFile writes a plain-text alert whenever a cycle asks for a human.
// The file is overwritten by each new alert and left alone otherwise.
type AlertFile struct {
	path string
}

func NewAlertFile(path string) *AlertFile {
	return &AlertFile{path: path}
}

func (a *AlertFile) Name() string { return "alert_file" }

func (a *AlertFile) Publish(_ context.Context, rec controller.DecisionRecord) error {
	if !rec.Intervention.Needed {
		return nil
	}
	msg := rec.Intervention.Message
	if msg == "" {
		msg = "Check system manually."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ALERT - %s\n", rec.Time.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "%s\n", msg)
	fmt.Fprintf(&b, "cycle %s, outcome %s, took %s\n", rec.ID, rec.Outcome, humanize.SIWithDigits(rec.Duration.Seconds(), 1, "s"))
	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return err
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, a.path)
}
