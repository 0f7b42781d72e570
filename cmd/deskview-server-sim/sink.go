//go:build !robotgo

package main

import (
	"pkt.systems/pslog"

	"github.com/framegrace/deskview/server"
)

func inputSink(logger pslog.Logger) server.EventSink {
	return server.NewLogSink(logger)
}
