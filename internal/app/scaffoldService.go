package app

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"text/template"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const changeSetTemplate = `--liquibase formatted sql

--changeset {{.Author}}:{{.ID}}
--comment: {{.Name}}
-- write the change here

--rollback not required
`

var (
	changeSetName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

	// author ends at the first ':' of a --changeset line and may not hold spaces.
	changeSetAuthor = regexp.MustCompile(`^[^\s:]+$`)
)

// ScaffoldService writes new formatted SQL changelog files.
type ScaffoldService struct {
	dir    string
	now    func() time.Time
	logger log.FieldLogger
}

func NewScaffoldService(dir string, logger log.FieldLogger) *ScaffoldService {
	return &ScaffoldService{dir: dir, now: time.Now, logger: logger}
}

// Create writes <dir>/<timestamp>_<name>.sql holding one changeset whose id is
// <timestamp>-<name>, and returns the file path.
func (s *ScaffoldService) Create(name, author string) (string, error) {
	if !changeSetName.MatchString(name) {
		return "", errors.Errorf("invalid changeset name %q", name)
	}
	if author == "" {
		return "", errors.New("author is required")
	}
	if !changeSetAuthor.MatchString(author) {
		return "", errors.Errorf("invalid changeset author %q: no spaces or ':' allowed", author)
	}

	version := s.now().UTC().Format("20060102150405")
	in := struct {
		ID     string
		Name   string
		Author string
	}{
		ID:     version + "-" + name,
		Name:   name,
		Author: author,
	}

	tmpl, err := template.New(name).Parse(changeSetTemplate)
	if err != nil {
		return "", errors.Wrap(err, "unable to parse template")
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, in); err != nil {
		return "", errors.Wrap(err, "unable to execute template")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "unable to create changelog directory")
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.sql", version, name))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "unable to create changelog file")
	}
	defer file.Close()

	if _, err := file.Write(out.Bytes()); err != nil {
		return "", errors.Wrap(err, "unable to write changelog file")
	}
	s.logger.WithFields(log.Fields{"file": path, "changeset": in.ID}).Info("changelog file created")
	return path, nil
}
