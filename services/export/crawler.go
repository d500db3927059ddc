package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gsexport/lib/scrapers/gradescope"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// crawler walks courses, their assignment tables and each assignment's
// default submission, yielding the files to fetch. It does not retry
// anything itself, transient retry lives in the gradescope client. Its only
// extra job is partial-failure bookkeeping: one broken course or assignment
// is recorded and skipped, never fatal — with the single exception of the
// session going stale mid-run, which is reported through fatal.
type crawler struct {
	client   *gradescope.Client
	report   *Report
	manifest *manifest
	// invoked when the run cannot usefully continue (auth rejection)
	fatal func(error)
}

// courses fetches and parses the account page. A failure here is fatal to
// the run, there is nothing to export without the course list.
func (c crawler) courses(ctx context.Context) ([]gradescope.Course, error) {
	ctx, span := tracer.Start(ctx, "crawler:courses")
	defer span.End()

	body, err := c.client.GetPage(ctx, "/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch account page")
		return nil, fmt.Errorf("course list: %w", err)
	}
	courses, err := gradescope.ParseCourses(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse account page")
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(courses)))
	return courses, nil
}

// discover walks the given courses and sends one FileDescriptor per
// downloadable file, in course order, then assignment order, then file
// order. The channel closes when the walk finishes or ctx is cancelled.
func (c crawler) discover(ctx context.Context, courses []gradescope.Course) <-chan gradescope.FileDescriptor {
	out := make(chan gradescope.FileDescriptor)
	go func() {
		defer close(out)
		for _, course := range courses {
			if ctx.Err() != nil {
				return
			}
			c.walkCourse(ctx, course, out)
		}
	}()
	return out
}

func (c crawler) walkCourse(ctx context.Context, course gradescope.Course, out chan<- gradescope.FileDescriptor) {
	ctx, span := tracer.Start(ctx, "crawler:walkCourse")
	defer span.End()
	span.SetAttributes(attribute.String("course", course.ID))

	slog.DebugContext(ctx, "inspecting course", "id", course.ID, "name", course.Name())

	body, err := c.client.GetPage(ctx, "/courses/"+course.ID)
	if errors.Is(err, gradescope.ErrAuth) {
		c.fatal(err)
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch course page")
		c.report.Failure("course "+course.Name(), err)
		return
	}
	page, err := gradescope.ParseCoursePage(body, course)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse course page")
		c.report.Failure("course "+course.Name(), err)
		return
	}
	c.manifest.addCourse(course, page)

	for _, assignment := range page.Assignments {
		if ctx.Err() != nil {
			return
		}
		for _, fd := range c.submissionFiles(ctx, course, assignment) {
			select {
			case out <- fd:
			case <-ctx.Done():
				return
			}
		}
	}
}

// submissionFiles resolves the default submission of one assignment into
// file descriptors. No default submission is a skip, not an error; a fetch
// failure on the submission page is a recorded failure.
func (c crawler) submissionFiles(ctx context.Context, course gradescope.Course, assignment gradescope.Assignment) []gradescope.FileDescriptor {
	itemContext := course.Name() + ": " + assignment.Name

	submissionPath := gradescope.SubmissionPath(assignment)
	if submissionPath == "" {
		slog.DebugContext(ctx, "assignment has no default submission", "assignment", assignment.Name)
		c.report.Skip(itemContext + " (no submission)")
		return nil
	}

	body, err := c.client.GetPage(ctx, submissionPath)
	if errors.Is(err, gradescope.ErrAuth) {
		c.fatal(err)
		return nil
	}
	if err != nil {
		c.report.Failure(itemContext, err)
		return nil
	}
	return gradescope.ParseSubmissionFiles(body, course, assignment)
}
