//go:build windows

package pty

import (
	"github.com/remote-agent-terminal/gateway/internal/model"
)

func (f *NativeFactory) start(argv, env []string, dir string, cfg model.PtyConfiguration, sink OutputSink) (Process, error) {
	return nil, ErrUnsupportedPlatform
}
