package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gsexport/lib/scrapers/gradescope"
	"gsexport/lib/telemetry"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testSessionCookie = "good-session"

// fakeSite is a minimal gradescope lookalike: an account page behind the
// session cookie, one healthy course, one course that always 500s, and the
// submission endpoints of the healthy course's assignments.
func fakeSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var server *httptest.Server

	loginPage := `<html><body>
		<form action="/login" method="post">
			<input name="session[email]" type="text"/>
		</form>
	</body></html>`

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		cookie, err := r.Cookie("_gradescope_session")
		if err != nil || cookie.Value != testSessionCookie {
			fmt.Fprint(w, loginPage)
			return
		}
		fmt.Fprint(w, `<div class="courseList">
			<div class="courseList--term pageSubheading">Fall 2022</div>
			<div class="courseList--coursesForTerm">
				<a class="courseBox" href="/courses/101">
					<h3 class="courseBox--shortname">CS 2110</h3>
					<div class="courseBox--name">Computer Organization</div>
				</a>
				<a class="courseBox" href="/courses/202">
					<h3 class="courseBox--shortname">FLAKY 1000</h3>
				</a>
			</div>
		</div>`)
	})

	mux.HandleFunc("/courses/101", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<ul class="js-sidebarRoster"><li>Ada Lovelace</li></ul>
			<table id="assignments-student-table">
				<tr>
					<th><a href="/courses/101/assignments/777/submissions/9001">Homework 1</a></th>
					<td><div class="submissionStatus--score">95.0 / 100.0</div></td>
				</tr>
				<tr>
					<th><a href="/courses/101/assignments/778">Homework 2</a></th>
					<td><div class="submissionStatus">No Submission</div></td>
				</tr>
				<tr>
					<th><a href="/courses/101/assignments/779/submissions/9002">Project 1</a></th>
					<td><div class="submissionStatus--score">80.0 / 100.0</div></td>
				</tr>
			</table>
		</body></html>`)
	})
	mux.HandleFunc("/courses/202", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	mux.HandleFunc("/courses/101/assignments/777/submissions/9001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"pdf_attachment":{"url":"%s/uploads/hw1_graded.pdf"}}`, server.URL)
	})
	mux.HandleFunc("/courses/101/assignments/777/submissions/9001.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hw1 direct pdf")
	})
	mux.HandleFunc("/uploads/hw1_graded.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hw1 graded pdf")
	})

	// the attachment of 9002 shares its name with the direct download,
	// forcing a collision suffix
	mux.HandleFunc("/courses/101/assignments/779/submissions/9002", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"pdf_attachment":{"url":"%s/uploads/9002.pdf"}}`, server.URL)
	})
	mux.HandleFunc("/courses/101/assignments/779/submissions/9002.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "p1 direct pdf")
	})
	mux.HandleFunc("/uploads/9002.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "p1 graded pdf")
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testService(t *testing.T, baseUrl, sessionCookie string) Service {
	t.Helper()
	client, err := gradescope.NewClient(gradescope.ClientOptions{
		BaseUrl: baseUrl,
		Session: gradescope.Session{Cookie: sessionCookie, Token: "tok"},
		Retry: gradescope.RetryPolicy{
			Attempts: 1,
			WaitMin:  time.Millisecond,
			WaitMax:  time.Millisecond * 5,
		},
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return NewService(client)
}

func TestRunExportsEverything(t *testing.T) {
	defer telemetry.SetupForTesting(t, "export-test")()
	server := fakeSite(t)
	svc := testService(t, server.URL, testSessionCookie)

	var buf bytes.Buffer
	report, err := svc.Run(context.Background(), RunOptions{
		Output: &buf,
		// one worker keeps completion order deterministic for the
		// collision assertion below
		Concurrency: 1,
	})
	require.NoError(t, err)

	// 9001.pdf + attachment, 9002.pdf + colliding attachment
	require.Equal(t, 4, report.Successes())
	// homework 2 has no submission, both speculative zip urls 404
	require.Len(t, report.Skips(), 3)
	// the flaky course is recorded, not fatal
	failures := report.Failures()
	require.Len(t, failures, 1)
	require.Contains(t, failures[0].Context, "FLAKY 1000")
	require.False(t, report.Cancelled())

	entries := readZip(t, &buf)
	require.Equal(t, "hw1 direct pdf", entries["CS 2110/Homework 1/9001.pdf"])
	require.Equal(t, "hw1 graded pdf", entries["CS 2110/Homework 1/hw1_graded.pdf"])
	require.Equal(t, "p1 direct pdf", entries["CS 2110/Project 1/9002.pdf"])
	require.Equal(t, "p1 graded pdf", entries["CS 2110/Project 1/9002-1.pdf"])

	manifest := entries["README.md"]
	require.Contains(t, manifest, "## Fall 2022")
	require.Contains(t, manifest, "### CS 2110: Computer Organization")
	require.Contains(t, manifest, "- Ada Lovelace")
	require.Contains(t, manifest, "- Homework 1 (95.0 / 100.0)")
	require.Contains(t, manifest, "[CS 2110/Homework 1/9001.pdf]")
}

func TestRunConcurrentWorkers(t *testing.T) {
	server := fakeSite(t)
	svc := testService(t, server.URL, testSessionCookie)

	fs := afero.NewMemMapFs()
	archive, err := fs.Create("export.zip")
	require.NoError(t, err)

	report, err := svc.Run(context.Background(), RunOptions{
		Output:      archive,
		Concurrency: 4,
	})
	require.NoError(t, err)
	require.NoError(t, archive.Close())
	require.Equal(t, 4, report.Successes())

	// entry names must stay unique whichever worker wins the collision
	contents, err := afero.ReadFile(fs, "export.zip")
	require.NoError(t, err)
	entries := readZip(t, bytes.NewBuffer(contents))
	require.Len(t, entries, 5) // 4 files + README.md
}

func TestRunCourseFilter(t *testing.T) {
	server := fakeSite(t)
	svc := testService(t, server.URL, testSessionCookie)

	var buf bytes.Buffer
	report, err := svc.Run(context.Background(), RunOptions{
		Output:       &buf,
		CourseFilter: []string{"cs 2110"},
		Concurrency:  1,
	})
	require.NoError(t, err)
	require.Equal(t, 4, report.Successes())
	// the flaky course is filtered out, so nothing fails
	require.Empty(t, report.Failures())
}

func TestRunCourseFilterSuggestion(t *testing.T) {
	server := fakeSite(t)
	svc := testService(t, server.URL, testSessionCookie)

	var buf bytes.Buffer
	_, err := svc.Run(context.Background(), RunOptions{
		Output:       &buf,
		CourseFilter: []string{"CS 2100"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `did you mean "CS 2110"?`)
}

func TestRunStaleSession(t *testing.T) {
	server := fakeSite(t)
	svc := testService(t, server.URL, "expired")

	var buf bytes.Buffer
	report, err := svc.Run(context.Background(), RunOptions{Output: &buf})
	require.ErrorIs(t, err, gradescope.ErrAuth)
	require.Equal(t, 0, report.Successes())
}

func TestRunAuthRejectionMidRunIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div class="courseList">
			<a class="courseBox" href="/courses/101">
				<h3 class="courseBox--shortname">CS 2110</h3>
			</a>
		</div>`)
	})
	mux.HandleFunc("/courses/101", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := testService(t, server.URL, testSessionCookie)

	var buf bytes.Buffer
	_, err := svc.Run(context.Background(), RunOptions{Output: &buf})
	require.ErrorIs(t, err, gradescope.ErrAuth)

	// even a terminated run leaves a finalized, openable archive
	_, zipErr := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, zipErr)
}

func TestRunExpiredAttachmentLinkIsNotFatal(t *testing.T) {
	// an expired presigned attachment link answers 403 from the upload
	// bucket; the run must record it and keep exporting other assignments
	bucket := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bucket.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<div class="courseList">
			<a class="courseBox" href="/courses/101">
				<h3 class="courseBox--shortname">CS 2110</h3>
			</a>
		</div>`)
	})
	mux.HandleFunc("/courses/101", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<table id="assignments-student-table">
			<tr><th><a href="/courses/101/assignments/777/submissions/9001">Homework 1</a></th></tr>
			<tr><th><a href="/courses/101/assignments/779/submissions/9002">Project 1</a></th></tr>
		</table>`)
	})
	mux.HandleFunc("/courses/101/assignments/777/submissions/9001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"pdf_attachment":{"url":"%s/expired.pdf"}}`, bucket.URL)
	})
	mux.HandleFunc("/courses/101/assignments/779/submissions/9002", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>no attachment</body></html>`)
	})
	mux.HandleFunc("/courses/101/assignments/779/submissions/9002.pdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "p1 direct pdf")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := testService(t, server.URL, testSessionCookie)

	var buf bytes.Buffer
	report, err := svc.Run(context.Background(), RunOptions{Output: &buf, Concurrency: 1})
	require.NoError(t, err)
	require.False(t, report.Cancelled())

	require.Equal(t, 1, report.Successes())
	failures := report.Failures()
	require.Len(t, failures, 1)
	require.Contains(t, failures[0].Context, "expired.pdf")
	require.Contains(t, failures[0].Reason, "403")

	entries := readZip(t, &buf)
	require.Equal(t, "p1 direct pdf", entries["CS 2110/Project 1/9002.pdf"])
}

func TestRunSpeculativeServerErrorIsSkipped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<div class="courseList">
			<a class="courseBox" href="/courses/101">
				<h3 class="courseBox--shortname">CS 2110</h3>
			</a>
		</div>`)
	})
	mux.HandleFunc("/courses/101", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<table id="assignments-student-table">
			<tr><th><a href="/courses/101/assignments/777/submissions/9001">Homework 1</a></th></tr>
		</table>`)
	})
	mux.HandleFunc("/courses/101/assignments/777/submissions/9001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>no attachment</body></html>`)
	})
	mux.HandleFunc("/courses/101/assignments/777/submissions/9001.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := testService(t, server.URL, testSessionCookie)

	var buf bytes.Buffer
	report, err := svc.Run(context.Background(), RunOptions{Output: &buf, Concurrency: 1})
	require.NoError(t, err)

	// both guessed urls refused to serve, neither is a failure
	require.Empty(t, report.Failures())
	require.Len(t, report.Skips(), 2)
	require.Equal(t, 0, report.Successes())
}

func TestRunCancellationLeavesOpenableArchive(t *testing.T) {
	downloading := make(chan struct{})
	var once sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<div class="courseList">
			<a class="courseBox" href="/courses/101">
				<h3 class="courseBox--shortname">CS 2110</h3>
			</a>
		</div>`)
	})
	mux.HandleFunc("/courses/101", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<table id="assignments-student-table">
			<tr><th><a href="/courses/101/assignments/777/submissions/9001">Homework 1</a></th></tr>
		</table>`)
	})
	mux.HandleFunc("/courses/101/assignments/777/submissions/9001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>no attachment</body></html>`)
	})
	mux.HandleFunc("/courses/101/assignments/777/submissions/9001.pdf", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(downloading) })
		// stall until the client hangs up
		<-r.Context().Done()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := testService(t, server.URL, testSessionCookie)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	done := make(chan struct{})
	var report *Report
	var runErr error
	go func() {
		defer close(done)
		report, runErr = svc.Run(ctx, RunOptions{Output: &buf, Concurrency: 1})
	}()

	<-downloading
	cancel()
	<-done

	require.ErrorIs(t, runErr, context.Canceled)
	require.True(t, report.Cancelled())
	require.Equal(t, 0, report.Successes())

	// a cancelled run still writes the central directory
	_, zipErr := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, zipErr)
}

func TestCoursesListsEnrollments(t *testing.T) {
	server := fakeSite(t)
	svc := testService(t, server.URL, testSessionCookie)

	courses, err := svc.Courses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)
	require.Equal(t, "CS 2110", courses[0].ShortName)
	require.Equal(t, "Fall 2022", courses[0].Term)
}
