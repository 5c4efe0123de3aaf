package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cyberinferno/linesink/record"
)

// Fanout writes every record to each of its targets in order. A failing
// target does not prevent delivery to the others; the failures are joined.
type Fanout []Sink

// Write delivers rec to every target.
func (f Fanout) Write(rec record.Record) error {
	return f.each(func(s Sink) error { return s.Write(rec) })
}

func (f Fanout) Flush() error {
	return f.each(Sink.Flush)
}

func (f Fanout) Close() error {
	return f.each(Sink.Close)
}

// Name joins the target names.
func (f Fanout) Name() string {
	names := make([]string, len(f))
	for i, s := range f {
		names[i] = s.Name()
	}

	return "fanout(" + strings.Join(names, ",") + ")"
}

func (f Fanout) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range f {
		if err := fn(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	return errors.Join(errs...)
}
