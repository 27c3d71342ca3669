package logging

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// New builds the process logger. Logs always go to w, never to the status stream.
func New(w io.Writer, level, format string) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(w)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	logger.SetLevel(lvl)

	switch format {
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	case FormatText, "":
		logger.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
	return logger, nil
}
