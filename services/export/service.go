package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gsexport/lib/scrapers/gradescope"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/export")

type RunOptions struct {
	// destination the zip archive is streamed to
	Output io.Writer
	// restricts the export to matching courses; empty exports everything
	CourseFilter []string
	// number of concurrent file fetchers, defaults to 4
	Concurrency int
}

// Service drives a full export: discovery through the crawler, fetching and
// writing through the archive writer, outcome bookkeeping in a Report.
type Service struct {
	client *gradescope.Client
}

func NewService(client *gradescope.Client) Service {
	return Service{client: client}
}

// Courses performs just the discovery half of a run: the list of enrolled
// courses visible with the given session.
func (s Service) Courses(ctx context.Context) ([]gradescope.Course, error) {
	cr := crawler{
		client:   s.client,
		report:   NewReport(),
		manifest: newManifest(),
		fatal:    func(error) {},
	}
	return cr.courses(ctx)
}

// Run exports every matching course into opts.Output. Per-item failures are
// accumulated in the returned Report and never abort the run; only an auth
// rejection, a failure to fetch the course list itself, a local write error
// or cancellation end it early. The Report is returned in every case, and
// the archive is finalized (openable) on every path.
func (s Service) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	ctx, span := tracer.Start(ctx, "service:Run")
	defer span.End()

	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	report := NewReport()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatalMu sync.Mutex
	var fatalErr error
	fatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		cancel()
	}

	m := newManifest()
	cr := crawler{client: s.client, report: report, manifest: m, fatal: fatal}

	courses, err := cr.courses(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		report.finish(false)
		return report, err
	}

	matched := filterCourses(courses, opts.CourseFilter)
	if len(matched) == 0 && len(opts.CourseFilter) > 0 {
		report.finish(false)
		err := fmt.Errorf("no enrolled course matches %v", opts.CourseFilter)
		if closest := closestCourse(courses, opts.CourseFilter); closest != "" {
			err = fmt.Errorf(
				"no enrolled course matches %v, did you mean %q?",
				opts.CourseFilter, closest,
			)
		}
		return report, err
	}
	slog.InfoContext(ctx, "starting export",
		"run", report.RunID,
		"courses", len(matched),
		"workers", opts.Concurrency,
	)

	aw := newArchiveWriter(opts.Output, s.client)
	descriptors := cr.discover(runCtx, matched)

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fd := range descriptors {
				s.handleDescriptor(runCtx, aw, m, report, fatal, fd)
			}
		}()
	}
	wg.Wait()

	if fatalErr == nil && ctx.Err() == nil {
		if err := aw.writeManifest(m.render(report.RunID, time.Now())); err != nil {
			fatal(err)
		}
	}
	// always finalize so a partial archive is still openable
	if err := aw.close(); err != nil && fatalErr == nil {
		fatalErr = err
	}

	cancelled := ctx.Err() != nil
	report.finish(cancelled)

	switch {
	case fatalErr != nil:
		span.RecordError(fatalErr)
		span.SetStatus(codes.Error, "run terminated early")
		return report, fatalErr
	case cancelled:
		return report, ctx.Err()
	}
	return report, nil
}

func (s Service) handleDescriptor(
	ctx context.Context,
	aw *archiveWriter,
	m *manifest,
	report *Report,
	fatal func(error),
	fd gradescope.FileDescriptor,
) {
	itemContext := fd.Course + ": " + fd.Assignment + ": " + fd.Name

	entryName, err := aw.write(ctx, fd)
	var statusErr *gradescope.StatusError
	switch {
	case err == nil:
		slog.DebugContext(ctx, "exported file", "entry", entryName)
		report.Success()
		m.addExported(fd, entryName)
	case errors.Is(err, context.Canceled):
		// cancelled mid-flight, nothing to record
	case fd.Speculative && errors.As(err, &statusErr):
		// guessed urls are not expected to exist, any refusal is a skip
		slog.DebugContext(ctx, "speculative url not served",
			"url", fd.URL, "status", statusErr.Code)
		report.Skip(itemContext)
	case errors.Is(err, ErrWrite):
		report.Failure(itemContext, err)
		fatal(err)
	default:
		slog.WarnContext(ctx, "failed to export file", "item", itemContext, "err", err)
		report.Failure(itemContext, err)
	}
}
