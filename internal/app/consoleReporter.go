package app

import (
	"fmt"
	"io"
)

// ConsoleReporter prints status lines. Problems go to errOut, the rest to out.
type ConsoleReporter struct {
	out    io.Writer
	errOut io.Writer
}

func NewConsoleReporter(out, errOut io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out, errOut: errOut}
}

func (c *ConsoleReporter) Applying(id string) {
	fmt.Fprintln(c.out, "Applying changeset for validation:", id)
}

func (c *ConsoleReporter) AlreadyApplied(id string) {
	fmt.Fprintln(c.out, "Changeset already applied, skipped:", id)
}

func (c *ConsoleReporter) NotFound(id string) {
	fmt.Fprintln(c.errOut, "Changeset not found:", id)
}

func (c *ConsoleReporter) Applied(id string) {
	fmt.Fprintln(c.out, "Changeset applied successfully:", id)
}

func (c *ConsoleReporter) RollingBack(id string) {
	fmt.Fprintln(c.out, "Rolling back changeset:", id)
}

func (c *ConsoleReporter) RolledBack(id string) {
	fmt.Fprintln(c.out, "Changeset rolled back successfully:", id)
}

func (c *ConsoleReporter) RollbackUnsupported(id string) {
	fmt.Fprintln(c.errOut, "Rollback not defined for changeset, applied state kept:", id)
}

func (c *ConsoleReporter) Error(id string, err error) {
	fmt.Fprintf(c.errOut, "error applying %s: %v\n", id, err)
}
