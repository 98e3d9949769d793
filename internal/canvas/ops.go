package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"quizsync/internal/items"
	"quizsync/internal/services"
)

// Feature flag names Canvas has used for the New Quizzes engine across
// releases. Any of them counts as enabled.
var newQuizzesFlags = []string{"quizzes_next", "quizzes.next", "new_quizzes"}

// flexID decodes Canvas identifiers, which arrive as JSON numbers from the
// classic REST API and as strings from the New Quizzes API.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// UserProfile is the token owner as reported by the API.
type UserProfile struct {
	ID    string
	Name  string
	Email string
}

// Quiz is a created or fetched New Quiz shell. AssignmentID is the handle
// every item and assignment operation wants; the quiz-native ID is kept for
// display only.
type Quiz struct {
	ID           string
	AssignmentID string
	Title        string
}

// RemoteItem is one uploaded quiz item as seen in a listing. Key is parsed
// out of the title suffix and is empty for items that were not uploaded by
// this tool.
type RemoteItem struct {
	ID       string
	Key      items.CorrelationKey
	Title    string
	Position int
	Points   float64
	Slug     string
	Body     string
}

type quizResponse struct {
	ID           flexID `json:"id"`
	AssignmentID flexID `json:"assignment_id"`
	Title        string `json:"title"`
}

type itemResponse struct {
	ID             flexID  `json:"id"`
	Position       int     `json:"position"`
	PointsPossible float64 `json:"points_possible"`
	EntryType      string  `json:"entry_type"`
	Entry          struct {
		Title               string  `json:"title"`
		ItemBody            string  `json:"item_body"`
		InteractionTypeSlug string  `json:"interaction_type_slug"`
		PointsPossible      float64 `json:"points_possible"`
	} `json:"entry"`
}

func (r itemResponse) remote() RemoteItem {
	item := RemoteItem{
		ID:       string(r.ID),
		Title:    r.Entry.Title,
		Position: r.Position,
		Points:   r.PointsPossible,
		Slug:     r.Entry.InteractionTypeSlug,
		Body:     r.Entry.ItemBody,
	}
	if item.Points == 0 && r.Entry.PointsPossible > 0 {
		item.Points = r.Entry.PointsPossible
	}
	if key, ok := items.KeyFromTitle(r.Entry.Title); ok {
		item.Key = key
	}
	return item
}

func (c *Client) quizzesPath() string {
	return fmt.Sprintf("/api/quiz/v1/courses/%s/quizzes", c.target.CourseID)
}

func (c *Client) itemsPath(assignmentID string) string {
	return fmt.Sprintf("%s/%s/items", c.quizzesPath(), assignmentID)
}

func (c *Client) assignmentPath(assignmentID string) string {
	return fmt.Sprintf("/api/v1/courses/%s/assignments/%s", c.target.CourseID, assignmentID)
}

// WhoAmI resolves the token owner. A permanent failure here means the token
// is bad, which preflight treats as fatal.
func (c *Client) WhoAmI(ctx context.Context) (*UserProfile, error) {
	var resp struct {
		ID    flexID `json:"id"`
		Name  string `json:"name"`
		Email string `json:"primary_email"`
	}
	_, err := c.do(ctx, "whoami", apiRequest{
		method: http.MethodGet,
		path:   "/api/v1/users/self",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &UserProfile{ID: string(resp.ID), Name: resp.Name, Email: resp.Email}, nil
}

// NewQuizzesEnabled reports whether the course has any of the New Quizzes
// feature flags switched on.
func (c *Client) NewQuizzesEnabled(ctx context.Context) (bool, error) {
	var enabled []string
	_, err := c.do(ctx, "feature flags", apiRequest{
		method: http.MethodGet,
		path:   fmt.Sprintf("/api/v1/courses/%s/features/enabled", c.target.CourseID),
	}, &enabled)
	if err != nil {
		return false, err
	}
	for _, flag := range enabled {
		for _, wanted := range newQuizzesFlags {
			if flag == wanted {
				return true, nil
			}
		}
	}
	return false, nil
}

// CreateQuiz creates an empty New Quiz shell and returns its handles. Some
// deployments omit assignment_id and return the assignment handle as id.
func (c *Client) CreateQuiz(ctx context.Context, title, instructionsHTML string) (*Quiz, error) {
	var resp quizResponse
	_, err := c.do(ctx, "create quiz", apiRequest{
		method: http.MethodPost,
		path:   c.quizzesPath(),
		body: map[string]any{
			"quiz": map[string]any{
				"title":        title,
				"instructions": instructionsHTML,
			},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	quiz := &Quiz{ID: string(resp.ID), AssignmentID: string(resp.AssignmentID), Title: resp.Title}
	if quiz.AssignmentID == "" {
		quiz.AssignmentID = quiz.ID
	}
	if quiz.AssignmentID == "" {
		return nil, services.Wrap(services.ErrPermanent, component, "create quiz",
			"response carried no assignment id", nil)
	}
	return quiz, nil
}

// GetQuiz fetches an existing New Quiz by assignment handle.
func (c *Client) GetQuiz(ctx context.Context, assignmentID string) (*Quiz, error) {
	var resp quizResponse
	_, err := c.do(ctx, "get quiz", apiRequest{
		method: http.MethodGet,
		path:   c.quizzesPath() + "/" + assignmentID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	quiz := &Quiz{ID: string(resp.ID), AssignmentID: string(resp.AssignmentID), Title: resp.Title}
	if quiz.AssignmentID == "" {
		quiz.AssignmentID = assignmentID
	}
	return quiz, nil
}

// CreateItem uploads one item payload. The attempt count of the final try is
// returned so callers can record how hard the upload was.
func (c *Client) CreateItem(ctx context.Context, assignmentID string, payload *ItemPayload) (*RemoteItem, int, error) {
	var resp itemResponse
	attempts, err := c.do(ctx, "create item", apiRequest{
		method: http.MethodPost,
		path:   c.itemsPath(assignmentID),
		body:   payload,
	}, &resp)
	if err != nil {
		return nil, attempts, err
	}
	item := resp.remote()
	return &item, attempts, nil
}

// UpdateItem replaces an existing item's content with a freshly built payload.
func (c *Client) UpdateItem(ctx context.Context, assignmentID, itemID string, payload *ItemPayload) (*RemoteItem, int, error) {
	var resp itemResponse
	attempts, err := c.do(ctx, "update item", apiRequest{
		method: http.MethodPut,
		path:   c.itemsPath(assignmentID) + "/" + itemID,
		body:   payload,
	}, &resp)
	if err != nil {
		return nil, attempts, err
	}
	item := resp.remote()
	return &item, attempts, nil
}

// ListItems fetches every item currently on the quiz, following page
// parameters until a short page. Deployments that ignore paging return the
// full set each time, so a repeated leading ID also terminates the walk.
func (c *Client) ListItems(ctx context.Context, assignmentID string) ([]RemoteItem, error) {
	var (
		collected []RemoteItem
		seen      = map[string]struct{}{}
	)
	for page := 1; ; page++ {
		var batch []itemResponse
		_, err := c.do(ctx, "list items", apiRequest{
			method: http.MethodGet,
			path:   c.itemsPath(assignmentID),
			query: url.Values{
				"page":     {strconv.Itoa(page)},
				"per_page": {strconv.Itoa(c.pageSize)},
			},
		}, &batch)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return collected, nil
		}
		for _, entry := range batch {
			id := string(entry.ID)
			if _, dup := seen[id]; dup {
				return collected, nil
			}
			seen[id] = struct{}{}
			collected = append(collected, entry.remote())
		}
		if len(batch) < c.pageSize {
			return collected, nil
		}
	}
}

// DeleteItem removes one item from the quiz.
func (c *Client) DeleteItem(ctx context.Context, assignmentID, itemID string) error {
	_, err := c.do(ctx, "delete item", apiRequest{
		method: http.MethodDelete,
		path:   c.itemsPath(assignmentID) + "/" + itemID,
	}, nil)
	return err
}

// HasSubmissions reports whether any student has submitted the assignment.
// Destructive reconciliation is refused while this is true.
func (c *Client) HasSubmissions(ctx context.Context, assignmentID string) (bool, error) {
	var resp struct {
		HasSubmittedSubmissions bool `json:"has_submitted_submissions"`
	}
	_, err := c.do(ctx, "submission check", apiRequest{
		method: http.MethodGet,
		path:   c.assignmentPath(assignmentID),
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.HasSubmittedSubmissions, nil
}

// PublishAssignment flips the assignment to published so students can see it.
func (c *Client) PublishAssignment(ctx context.Context, assignmentID string) error {
	_, err := c.do(ctx, "publish assignment", apiRequest{
		method: http.MethodPut,
		path:   c.assignmentPath(assignmentID),
		form:   url.Values{"assignment[published]": {"true"}},
	}, nil)
	return err
}

// AddToModule attaches the assignment to the configured module and returns
// the module item id. Callers must not invoke this without a module target.
func (c *Client) AddToModule(ctx context.Context, assignmentID, title string) (string, error) {
	if c.target.ModuleID == "" {
		return "", services.Wrap(services.ErrConfiguration, component, "add to module",
			"no module id configured", nil)
	}
	var resp struct {
		ID flexID `json:"id"`
	}
	_, err := c.do(ctx, "add to module", apiRequest{
		method: http.MethodPost,
		path:   fmt.Sprintf("/api/v1/courses/%s/modules/%s/items", c.target.CourseID, c.target.ModuleID),
		form: url.Values{
			"module_item[type]":       {"Assignment"},
			"module_item[content_id]": {assignmentID},
			"module_item[title]":      {title},
			"module_item[indent]":     {"0"},
			"module_item[published]":  {"true"},
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}
