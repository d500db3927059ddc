package export

import (
	"gsexport/lib/scrapers/gradescope"
	"gsexport/lib/textutil"

	"github.com/antzucaro/matchr"
)

// filterCourses keeps the courses whose id or name matches one of the
// filter terms. An empty filter keeps everything.
func filterCourses(courses []gradescope.Course, filter []string) []gradescope.Course {
	if len(filter) == 0 {
		return courses
	}
	var kept []gradescope.Course
	for _, c := range courses {
		if textutil.MatchName(c.ID, filter) ||
			textutil.MatchName(c.ShortName, filter) ||
			textutil.MatchName(c.FullName, filter) {
			kept = append(kept, c)
		}
	}
	return kept
}

// closestCourse suggests the enrolled course most similar to the filter
// terms, for the "no courses matched" error message.
func closestCourse(courses []gradescope.Course, filter []string) string {
	best := ""
	bestSimilarity := 0.0
	for _, c := range courses {
		for _, term := range filter {
			similarity := matchr.JaroWinkler(
				textutil.NormalizeName(c.Name()),
				textutil.NormalizeName(term),
				false,
			)
			if similarity > bestSimilarity {
				bestSimilarity = similarity
				best = c.Name()
			}
		}
	}
	return best
}
