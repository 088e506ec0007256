//go:build !unix

package main

import (
	"context"

	"github.com/skobkin/sensornet/internal/app"
)

func forwardWakeSignals(context.Context, *app.Runtime) {}
