package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"quizsync/internal/canvas"
	"quizsync/internal/config"
	"quizsync/internal/ledger"
	"quizsync/internal/testsupport"
)

type courseItem struct {
	id       int
	title    string
	body     string
	slug     string
	position int
	points   float64
}

type fakeQuiz struct {
	id    int
	title string
	items map[int]courseItem
}

// fakeCourse stands in for the Canvas instance behind every CLI test. Each
// created quiz gets its own assignment handle and item map, so multi-quiz
// storyboards land on separate quizzes the way they would in production.
type fakeCourse struct {
	t  *testing.T
	mu sync.Mutex

	nextQuizID int
	nextItemID int
	quizzes    map[string]*fakeQuiz

	hasSubmissions bool
	featuresOff    bool

	quizCalls   int
	createCalls int
	updateCalls int
	deleteCalls int
}

func newFakeCourse(t *testing.T) (*fakeCourse, *httptest.Server) {
	t.Helper()
	fake := &fakeCourse{
		t:          t,
		nextQuizID: 9001,
		nextItemID: 100,
		quizzes:    map[string]*fakeQuiz{},
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	return fake, server
}

// drift mutates the stored item whose title contains the fragment, simulating
// an out-of-band edit on the course.
func (f *fakeCourse) drift(assignmentID, titleFragment string, points float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quiz, ok := f.quizzes[assignmentID]
	if !ok {
		return
	}
	for id, item := range quiz.items {
		if strings.Contains(item.title, titleFragment) {
			item.points = points
			quiz.items[id] = item
		}
	}
}

func (f *fakeCourse) itemCount(assignmentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	quiz, ok := f.quizzes[assignmentID]
	if !ok {
		return 0
	}
	return len(quiz.items)
}

func (f *fakeCourse) itemPoints(assignmentID, titleFragment string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	quiz, ok := f.quizzes[assignmentID]
	if !ok {
		return -1
	}
	for _, item := range quiz.items {
		if strings.Contains(item.title, titleFragment) {
			return item.points
		}
	}
	return -1
}

func (f *fakeCourse) handler() http.Handler {
	const quizzesPath = "/api/quiz/v1/courses/101/quizzes"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path
		switch {
		case r.Method == http.MethodGet && path == "/api/v1/users/self":
			writeFakeJSON(w, map[string]any{"id": 7, "name": "Course Admin"})

		case r.Method == http.MethodGet && path == "/api/v1/courses/101/features/enabled":
			flags := []string{"new_quizzes"}
			if f.featuresOff {
				flags = nil
			}
			writeFakeJSON(w, flags)

		case r.Method == http.MethodPost && path == quizzesPath:
			f.quizCalls++
			var req struct {
				Quiz struct {
					Title string `json:"title"`
				} `json:"quiz"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			id := f.nextQuizID
			f.nextQuizID++
			assignmentID := strconv.Itoa(id)
			f.quizzes[assignmentID] = &fakeQuiz{id: id, title: req.Quiz.Title, items: map[int]courseItem{}}
			writeFakeJSON(w, map[string]any{"id": id, "assignment_id": id, "title": req.Quiz.Title})

		case strings.HasPrefix(path, quizzesPath+"/"):
			f.handleQuizScoped(w, r, strings.TrimPrefix(path, quizzesPath+"/"))

		case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v1/courses/101/assignments/"):
			writeFakeJSON(w, map[string]any{"has_submitted_submissions": f.hasSubmissions})

		case r.Method == http.MethodPut && strings.HasPrefix(path, "/api/v1/courses/101/assignments/"):
			writeFakeJSON(w, map[string]any{"published": true})

		case r.Method == http.MethodPost && path == "/api/v1/courses/101/modules/55/items":
			writeFakeJSON(w, map[string]any{"id": 501})

		default:
			f.t.Errorf("unexpected request %s %s", r.Method, path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeCourse) handleQuizScoped(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	quiz, ok := f.quizzes[parts[0]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		writeFakeJSON(w, map[string]any{"id": quiz.id, "assignment_id": quiz.id, "title": quiz.title})

	case len(parts) == 2 && parts[1] == "items" && r.Method == http.MethodPost:
		f.createCalls++
		var payload canvas.ItemPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		item := courseItem{
			id:       f.nextItemID,
			title:    payload.Item.Entry.Title,
			body:     payload.Item.Entry.ItemBody,
			slug:     payload.Item.Entry.InteractionTypeSlug,
			position: payload.Item.Position,
			points:   payload.Item.PointsPossible,
		}
		f.nextItemID++
		quiz.items[item.id] = item
		writeFakeJSON(w, courseItemJSON(item))

	case len(parts) == 2 && parts[1] == "items" && r.Method == http.MethodGet:
		ids := make([]int, 0, len(quiz.items))
		for id := range quiz.items {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		batch := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			batch = append(batch, courseItemJSON(quiz.items[id]))
		}
		writeFakeJSON(w, batch)

	case len(parts) == 3 && parts[1] == "items" && r.Method == http.MethodPut:
		f.updateCalls++
		id, _ := strconv.Atoi(parts[2])
		item, ok := quiz.items[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var payload canvas.ItemPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		item.title = payload.Item.Entry.Title
		item.body = payload.Item.Entry.ItemBody
		item.slug = payload.Item.Entry.InteractionTypeSlug
		item.position = payload.Item.Position
		item.points = payload.Item.PointsPossible
		quiz.items[id] = item
		writeFakeJSON(w, courseItemJSON(item))

	case len(parts) == 3 && parts[1] == "items" && r.Method == http.MethodDelete:
		f.deleteCalls++
		id, _ := strconv.Atoi(parts[2])
		delete(quiz.items, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func courseItemJSON(item courseItem) map[string]any {
	return map[string]any{
		"id":              item.id,
		"position":        item.position,
		"points_possible": item.points,
		"entry_type":      "Item",
		"entry": map[string]any{
			"title":                 item.title,
			"item_body":             item.body,
			"interaction_type_slug": item.slug,
			"points_possible":       item.points,
		},
	}
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type cliTestEnv struct {
	fake       *fakeCourse
	server     *httptest.Server
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	for _, key := range []string{"CANVAS_DOMAIN", "CANVAS_TOKEN", "CANVAS_COURSE_ID"} {
		t.Setenv(key, "")
	}

	fake, server := newFakeCourse(t)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, base, server.URL)

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	return &cliTestEnv{
		fake:       fake,
		server:     server,
		cfg:        cfg,
		configPath: configPath,
		baseDir:    base,
	}
}

func writeTestConfig(t *testing.T, path, baseDir, domain string) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
report_dir = %q

[canvas]
domain = %q
token = "test-token"
course_id = "101"

[upload]
max_attempts = 3
retry_backoff_base = 0.01
retry_backoff_cap = 0.02
concurrency = 1
`,
		filepath.Join(baseDir, "data"),
		filepath.Join(baseDir, "logs"),
		filepath.Join(baseDir, "reports"),
		domain,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// withLedger opens the env's ledger for one assertion block. The store holds
// an exclusive lock, so it must never stay open across a runCLI call.
func withLedger(t *testing.T, env *cliTestEnv, fn func(*ledger.Store)) {
	t.Helper()
	store, err := ledger.Open(env.cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	defer store.Close()
	fn(store)
}

func writeStoryboard(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testsupport.WriteFile(t, path, contents)
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

const twoQuestionStoryboard = `<canvas_page>
<page_title>Cell Biology</page_title>
<quiz_start>
<quiz_title>Cell Biology Quiz</quiz_title>
<question><multiple_choice>
Which organelle produces most of the cell's ATP?
* Mitochondria
- Ribosome
- Nucleus
</question>

<question><true_false>
Plant cells contain chloroplasts.
correct: True
</question>
</quiz_end>
</canvas_page>
`

const twoQuizStoryboard = `<canvas_page>
<page_title>Unit Review</page_title>
<quiz_start>
<quiz_title>Part One</quiz_title>
<question><true_false>
Water is a polar molecule.
correct: True
</question>
</quiz_end>
<quiz_start>
<quiz_title>Part Two</quiz_title>
<question><true_false>
Osmosis requires ATP.
correct: False
</question>
</quiz_end>
</canvas_page>
`

const brokenFirstPageStoryboard = `<canvas_page>
<page_title>Broken Page</page_title>
<quiz_start>
<question><true_false>
This page never closes.
correct: True
</question>
<canvas_page>
<page_title>Good Page</page_title>
<quiz_start>
<quiz_title>Good Quiz</quiz_title>
<question><true_false>
The sun is a star.
correct: True
</question>
</quiz_end>
</canvas_page>
`
