package gradescope

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"gsexport/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Course is one enrollment found on the account page.
type Course struct {
	ID        string
	ShortName string
	FullName  string
	Term      string
}

func (c Course) Name() string {
	if c.ShortName != "" {
		return c.ShortName
	}
	return c.ID
}

// Assignment is one row of a course's assignment table. SubmissionID is
// empty when the row has no default submission to export.
type Assignment struct {
	ID           string
	Name         string
	Grade        string
	CourseID     string
	SubmissionID string
}

// CoursePage is the scraped content of a single course's page.
type CoursePage struct {
	Assignments []Assignment
	Instructors []string
}

// FileDescriptor is one file to download into the archive. Speculative
// descriptors are guessed urls that commonly do not exist, a refused fetch
// on them is a skip rather than a failure.
type FileDescriptor struct {
	Course      string
	Assignment  string
	Name        string
	URL         string
	Speculative bool
}

// ParseCourses extracts the enrolled courses from the account page.
// It returns ErrAuth when the page is the login form (stale cookies are
// served a 200 login page, not a 401) and a ParseError when the course
// list markup is missing.
func ParseCourses(body []byte) ([]Course, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Page: "account page", Missing: "parseable html"}
	}

	if doc.Find(`form[action="/login"], input[name="session[email]"]`).Length() > 0 {
		return nil, ErrAuth
	}

	list := doc.Find("div.courseList")
	if list.Length() == 0 {
		return nil, &ParseError{Page: "account page", Missing: "div.courseList"}
	}

	var courses []Course
	list.Find("div.courseList--term").Each(func(_ int, termSel *goquery.Selection) {
		term := strings.TrimSpace(termSel.Text())
		termSel.NextFiltered("div.courseList--coursesForTerm").
			Find("a.courseBox").
			Each(func(_ int, box *goquery.Selection) {
				if course, ok := courseFromBox(box, term); ok {
					courses = append(courses, course)
				}
			})
	})

	// tolerate a flat list without term groupings
	if len(courses) == 0 {
		list.Find("a.courseBox").Each(func(_ int, box *goquery.Selection) {
			if course, ok := courseFromBox(box, ""); ok {
				courses = append(courses, course)
			}
		})
	}

	return courses, nil
}

func courseFromBox(box *goquery.Selection, term string) (Course, bool) {
	if len(box.Nodes) == 0 {
		return Course{}, false
	}
	href := htmlutil.Attr(box.Nodes[0], "href")
	id := lastPathSegment(href)
	if id == "" || !strings.Contains(href, "/courses/") {
		return Course{}, false
	}

	shortName := strings.TrimSpace(box.Find("h3.courseBox--shortname").Text())
	if shortName == "" {
		shortName = htmlutil.CleanText(box.Nodes[0])
	}

	return Course{
		ID:        id,
		ShortName: shortName,
		FullName:  strings.TrimSpace(box.Find("div.courseBox--name").Text()),
		Term:      term,
	}, true
}

// ParseCoursePage extracts the assignment rows and the instructor roster
// from a course page. Rows without a link are headers and are skipped; rows
// whose link has no submission segment are assignments that were never
// submitted to and yield zero files downstream.
func ParseCoursePage(body []byte, course Course) (CoursePage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return CoursePage{}, &ParseError{Page: "course " + course.ID, Missing: "parseable html"}
	}

	table := doc.Find("table#assignments-student-table")
	if table.Length() == 0 {
		return CoursePage{}, &ParseError{
			Page:    "course " + course.ID,
			Missing: "table#assignments-student-table",
		}
	}

	var page CoursePage
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find("a[href]").First()
		if anchor.Length() == 0 {
			return
		}
		assignmentId, submissionId := submissionRef(anchor.AttrOr("href", ""))
		if assignmentId == "" {
			return
		}
		page.Assignments = append(page.Assignments, Assignment{
			ID:           assignmentId,
			Name:         strings.TrimSpace(anchor.Text()),
			Grade:        strings.TrimSpace(row.Find("div.submissionStatus--score").Text()),
			CourseID:     course.ID,
			SubmissionID: submissionId,
		})
	})

	seen := map[string]bool{}
	doc.Find("ul.js-sidebarRoster li").Each(func(_ int, item *goquery.Selection) {
		name := strings.TrimSpace(item.Text())
		if name != "" && !seen[name] {
			seen[name] = true
			page.Instructors = append(page.Instructors, name)
		}
	})

	return page, nil
}

// SubmissionPath returns the path of an assignment's default submission
// page, or "" when there is none.
func SubmissionPath(a Assignment) string {
	if a.SubmissionID == "" {
		return ""
	}
	return "/courses/" + a.CourseID + "/assignments/" + a.ID + "/submissions/" + a.SubmissionID
}

// ParseSubmissionFiles lists the files of an assignment's default
// submission: the two guessed direct-download urls (pdf and zip variants of
// the submission endpoint) plus the pdf attachment link when the submission
// page exposes one. It never fails, the attachment link is best effort.
func ParseSubmissionFiles(body []byte, course Course, assignment Assignment) []FileDescriptor {
	if assignment.SubmissionID == "" {
		return nil
	}

	submissionPath := SubmissionPath(assignment)
	files := []FileDescriptor{
		{
			Course:      course.Name(),
			Assignment:  assignment.Name,
			Name:        assignment.SubmissionID + ".pdf",
			URL:         submissionPath + ".pdf",
			Speculative: true,
		},
		{
			Course:      course.Name(),
			Assignment:  assignment.Name,
			Name:        assignment.SubmissionID + ".zip",
			URL:         submissionPath + ".zip",
			Speculative: true,
		},
	}

	link, ok := attachmentLink(body)
	if ok && strings.Contains(link, "pdf") {
		files = append(files, FileDescriptor{
			Course:     course.Name(),
			Assignment: assignment.Name,
			Name:       attachmentName(link),
			URL:        link,
		})
	}

	return files
}

const uploadsUrlPrefix = "https://production-gradescope-uploads"

// attachmentLink digs the pdf attachment url out of a submission page. The
// endpoint answers JSON for programming submissions and HTML with the url
// embedded in escaped JS for pdf submissions.
func attachmentLink(body []byte) (string, bool) {
	var payload struct {
		PdfAttachment struct {
			URL string `json:"url"`
		} `json:"pdf_attachment"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.PdfAttachment.URL != "" {
		return payload.PdfAttachment.URL, true
	}

	idx := bytes.Index(body, []byte(uploadsUrlPrefix))
	if idx < 0 {
		return "", false
	}
	link := string(body[idx:])
	for _, terminator := range []string{"&quot", `"`, `'`, "\\u0026quot"} {
		if end := strings.Index(link, terminator); end >= 0 {
			link = link[:end]
		}
	}
	link = strings.ReplaceAll(link, "\\u0026", "&")
	link = strings.ReplaceAll(link, "&amp;", "&")
	return link, true
}

func attachmentName(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return "attachment.pdf"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "attachment.pdf"
	}
	return name
}

func submissionRef(href string) (assignmentId, submissionId string) {
	parsed, err := url.Parse(href)
	if err != nil {
		return "", ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		switch segments[i] {
		case "assignments":
			assignmentId = segments[i+1]
		case "submissions":
			submissionId = segments[i+1]
		}
	}
	return assignmentId, submissionId
}

func lastPathSegment(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	return strings.TrimSpace(segments[len(segments)-1])
}
