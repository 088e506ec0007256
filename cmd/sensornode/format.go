package main

import (
	"fmt"
	"time"

	"github.com/skobkin/sensornet/internal/frame"
)

const timeLayout = "15:04:05.000"

// formatFrame renders one frame with its decoded header. Frames that do not
// carry a sensor network identifier are marked foreign.
func formatFrame(at time.Time, f frame.Raw) string {
	h, err := frame.Decode(f.ID)
	if err != nil {
		return fmt.Sprintf("%s  %08X  foreign  [%d] %s", at.Format(timeLayout), f.ID, f.Len, f.Hex())
	}

	return fmt.Sprintf("%s  %08X  %s  [%d] %s", at.Format(timeLayout), f.ID, h, f.Len, f.Hex())
}
