package export

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gsexport/lib/scrapers/gradescope"
)

// seasonOrder sorts terms within a year chronologically.
var seasonOrder = map[string]int{
	"Spring": 0,
	"Summer": 1,
	"Fall":   2,
}

type manifestCourse struct {
	course      gradescope.Course
	instructors []string
	assignments []gradescope.Assignment
}

type entryKey struct {
	course     string
	assignment string
}

// manifest collects what the crawl saw and what was actually exported so a
// README.md index can be written into the archive at the end of the run.
type manifest struct {
	mu       sync.Mutex
	courses  []*manifestCourse
	exported map[entryKey][]string
}

func newManifest() *manifest {
	return &manifest{exported: map[entryKey][]string{}}
}

func (m *manifest) addCourse(course gradescope.Course, page gradescope.CoursePage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses = append(m.courses, &manifestCourse{
		course:      course,
		instructors: page.Instructors,
		assignments: page.Assignments,
	})
}

func (m *manifest) addExported(fd gradescope.FileDescriptor, entryName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entryKey{course: fd.Course, assignment: fd.Assignment}
	m.exported[key] = append(m.exported[key], entryName)
}

// termChronoIndex maps a term like "Fall 2023" onto a sortable pair.
// Unrecognized terms sort first, preserving their listing order.
func termChronoIndex(term string) (int, int) {
	parts := strings.Fields(term)
	if len(parts) != 2 {
		return 0, 0
	}
	season, ok := seasonOrder[parts[0]]
	if !ok {
		return 0, 0
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0
	}
	return year, season
}

// render produces the README.md placed at the root of the archive: courses
// grouped by term in chronological order, each with its instructors and
// assignment outcomes.
func (m *manifest) render(runId string, exportedAt time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTerm := map[string][]*manifestCourse{}
	var terms []string
	for _, c := range m.courses {
		if _, seen := byTerm[c.course.Term]; !seen {
			terms = append(terms, c.course.Term)
		}
		byTerm[c.course.Term] = append(byTerm[c.course.Term], c)
	}
	sort.SliceStable(terms, func(i, j int) bool {
		yearA, seasonA := termChronoIndex(terms[i])
		yearB, seasonB := termChronoIndex(terms[j])
		if yearA != yearB {
			return yearA < yearB
		}
		return seasonA < seasonB
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# Gradescope Submissions\n\n")
	fmt.Fprintf(
		&b, "gsexport run %s exported these submissions on %s.\n\n",
		runId, exportedAt.Format("2006-01-02 at 15:04:05 MST"),
	)

	for _, term := range terms {
		title := term
		if title == "" {
			title = "Other"
		}
		fmt.Fprintf(&b, "## %s\n\n", title)

		for _, c := range byTerm[term] {
			fmt.Fprintf(&b, "### %s", c.course.Name())
			if c.course.FullName != "" {
				fmt.Fprintf(&b, ": %s", c.course.FullName)
			}
			b.WriteString("\n\n")

			if len(c.instructors) > 0 {
				b.WriteString("**Instructors:**\n\n")
				for _, name := range c.instructors {
					fmt.Fprintf(&b, "- %s\n", name)
				}
				b.WriteString("\n")
			}

			b.WriteString("**Assignments:**\n\n")
			for _, a := range c.assignments {
				fmt.Fprintf(&b, "- %s", a.Name)
				if a.Grade != "" {
					fmt.Fprintf(&b, " (%s)", a.Grade)
				}
				b.WriteString("\n")

				// completion order varies between runs, sort for a
				// stable manifest
				entries := append([]string(nil), m.exported[entryKey{course: c.course.Name(), assignment: a.Name}]...)
				sort.Strings(entries)
				if len(entries) == 0 {
					b.WriteString("  * no files\n")
					continue
				}
				for _, entry := range entries {
					fmt.Fprintf(&b, "  * [%s](%s)\n", entry, entry)
				}
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
