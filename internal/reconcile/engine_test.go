package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"quizsync/internal/canvas"
	"quizsync/internal/config"
	"quizsync/internal/items"
	"quizsync/internal/ledger"
	"quizsync/internal/logging"
	"quizsync/internal/testsupport"
)

// fakeAPI is an in-memory stand-in for the canvas client. Items live in a
// map keyed by remote id; tests mutate it to simulate drops and duplicates.
type fakeAPI struct {
	mu     sync.Mutex
	items  map[string]canvas.RemoteItem
	nextID int

	dropCreates    bool
	hasSubmissions bool
	submissionsErr error

	createCalls int
	deleteCalls []string
	updateCalls []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: map[string]canvas.RemoteItem{}, nextID: 100}
}

func (f *fakeAPI) put(id string, key items.CorrelationKey, position int, points float64, slug, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = canvas.RemoteItem{
		ID:       id,
		Key:      key,
		Title:    "Question" + key.TitleSuffix(),
		Position: position,
		Points:   points,
		Slug:     slug,
		Body:     body,
	}
}

func (f *fakeAPI) ListItems(ctx context.Context, assignmentID string) ([]canvas.RemoteItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	listed := make([]canvas.RemoteItem, 0, len(f.items))
	for _, item := range f.items {
		listed = append(listed, item)
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].ID < listed[j].ID })
	return listed, nil
}

func (f *fakeAPI) CreateItem(ctx context.Context, assignmentID string, payload *canvas.ItemPayload) (*canvas.RemoteItem, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	item := remoteFromPayload(id, payload)
	if !f.dropCreates {
		f.items[id] = item
	}
	return &item, 1, nil
}

func (f *fakeAPI) UpdateItem(ctx context.Context, assignmentID, itemID string, payload *canvas.ItemPayload) (*canvas.RemoteItem, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls = append(f.updateCalls, itemID)
	item := remoteFromPayload(itemID, payload)
	f.items[itemID] = item
	return &item, 1, nil
}

func (f *fakeAPI) DeleteItem(ctx context.Context, assignmentID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, itemID)
	delete(f.items, itemID)
	return nil
}

func (f *fakeAPI) HasSubmissions(ctx context.Context, assignmentID string) (bool, error) {
	return f.hasSubmissions, f.submissionsErr
}

func remoteFromPayload(id string, payload *canvas.ItemPayload) canvas.RemoteItem {
	item := canvas.RemoteItem{
		ID:       id,
		Title:    payload.Item.Entry.Title,
		Position: payload.Item.Position,
		Points:   payload.Item.PointsPossible,
		Slug:     payload.Item.Entry.InteractionTypeSlug,
		Body:     payload.Item.Entry.ItemBody,
	}
	if key, ok := items.KeyFromTitle(item.Title); ok {
		item.Key = key
	}
	return item
}

func choiceSpec(position int) items.Spec {
	return items.Spec{
		Key:        items.NewKey(1, position, items.KindMultipleChoice),
		Kind:       items.KindMultipleChoice,
		Position:   position,
		Title:      "Question",
		PromptHTML: fmt.Sprintf("<p>Prompt %d</p>", position),
		Points:     2,
		Choices: []items.Choice{
			{Text: "A", Correct: true},
			{Text: "B"},
		},
	}
}

// seedJob creates a job with count records already in created status, as the
// upload phase leaves them, and mirrors each one into the fake listing.
func seedJob(t *testing.T, store *ledger.Store, api *fakeAPI, count int) (*ledger.Job, []*ledger.ItemRecord) {
	t.Helper()
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "Seed Quiz")
	if err := job.SetAssignment("9001"); err != nil {
		t.Fatalf("SetAssignment: %v", err)
	}
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	records := make([]*ledger.ItemRecord, 0, count)
	for position := 1; position <= count; position++ {
		spec := choiceSpec(position)
		encoded, err := spec.Encode()
		if err != nil {
			t.Fatalf("spec.Encode: %v", err)
		}
		remoteID := fmt.Sprintf("%d", 9+position)
		records = append(records, &ledger.ItemRecord{
			JobID:        job.ID,
			Key:          spec.Key.String(),
			Kind:         spec.Kind.String(),
			Position:     position,
			Title:        spec.Title,
			Points:       spec.Points,
			SpecJSON:     encoded,
			Status:       ledger.ItemStatusCreated,
			Attempts:     1,
			RemoteItemID: remoteID,
		})
		if api != nil {
			api.put(remoteID, spec.Key, position, spec.Points, canvas.SlugChoice, spec.PromptHTML)
		}
	}
	if err := store.InsertItemRecords(ctx, records); err != nil {
		t.Fatalf("InsertItemRecords: %v", err)
	}
	return job, records
}

func newEngine(t *testing.T, api API, cfg *config.Config) (*Engine, *ledger.Store) {
	t.Helper()
	store := testsupport.MustOpenLedger(t, cfg)
	return New(api, store, logging.NewNop(), cfg), store
}

func TestRunConfirmsAllItems(t *testing.T) {
	api := newFakeAPI()
	cfg := testsupport.NewConfig(t)
	engine, store := newEngine(t, api, cfg)
	job, _ := seedJob(t, store, api, 3)

	summary, err := engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.RoundsUsed() != 0 {
		t.Fatalf("expected no repair rounds, got %d", summary.RoundsUsed())
	}
	if len(summary.Rounds) != 1 {
		t.Fatalf("expected a single verification pass, got %d", len(summary.Rounds))
	}
	round := summary.Rounds[0]
	if round.Confirmed != 3 || round.Missing != 0 || round.Duplicate != 0 {
		t.Fatalf("unexpected round counts: %+v", round)
	}
	if !summary.Clean() {
		t.Fatalf("expected clean summary, got %+v", summary)
	}
	records, err := store.ItemRecords(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	for _, rec := range records {
		if rec.Status != ledger.ItemStatusReconciled {
			t.Fatalf("record %s: expected reconciled, got %s", rec.Key, rec.Status)
		}
		if rec.RemoteItemID == "" {
			t.Fatalf("record %s: expected remote id", rec.Key)
		}
	}
}

func TestRunRepostsMissingItem(t *testing.T) {
	api := newFakeAPI()
	cfg := testsupport.NewConfig(t)
	engine, store := newEngine(t, api, cfg)
	job, records := seedJob(t, store, api, 3)

	// Simulate a silent drop of the second item.
	api.mu.Lock()
	delete(api.items, records[1].RemoteItemID)
	api.mu.Unlock()

	summary, err := engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.RoundsUsed() != 1 {
		t.Fatalf("expected 1 repair round, got %d", summary.RoundsUsed())
	}
	if len(summary.Rounds) != 2 {
		t.Fatalf("expected 2 verification passes, got %d", len(summary.Rounds))
	}
	if summary.Rounds[0].Missing != 1 || summary.Rounds[0].Reposted != 1 {
		t.Fatalf("unexpected first round: %+v", summary.Rounds[0])
	}
	if summary.Rounds[1].Confirmed != 1 {
		t.Fatalf("unexpected second round: %+v", summary.Rounds[1])
	}
	if api.createCalls != 1 {
		t.Fatalf("expected 1 re-post, got %d", api.createCalls)
	}
	if summary.Exhausted != 0 {
		t.Fatalf("expected no exhausted items, got %d", summary.Exhausted)
	}

	refreshed, err := store.ItemRecords(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	for _, rec := range refreshed {
		if rec.Status != ledger.ItemStatusReconciled {
			t.Fatalf("record %s: expected reconciled, got %s", rec.Key, rec.Status)
		}
	}
}

func TestRunExhaustsRoundBudget(t *testing.T) {
	api := newFakeAPI()
	api.dropCreates = true
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRounds(2))
	engine, store := newEngine(t, api, cfg)
	job, records := seedJob(t, store, api, 1)

	api.mu.Lock()
	delete(api.items, records[0].RemoteItemID)
	api.mu.Unlock()

	summary, err := engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.RoundsUsed() != 1 {
		t.Fatalf("expected 1 repair round, got %d", summary.RoundsUsed())
	}
	if len(summary.Rounds) != 2 {
		t.Fatalf("expected the full round budget spent, got %d passes", len(summary.Rounds))
	}
	if summary.Exhausted != 1 {
		t.Fatalf("expected 1 exhausted item, got %d", summary.Exhausted)
	}
	if api.createCalls != 1 {
		t.Fatalf("expected repost only while budget remains, got %d creates", api.createCalls)
	}

	refreshed, err := store.ItemRecords(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	rec := refreshed[0]
	if rec.Status != ledger.ItemStatusFailed {
		t.Fatalf("expected failed record, got %s", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "reconciliation rounds exhausted") {
		t.Fatalf("expected exhaustion message, got %q", rec.ErrorMessage)
	}
}

func TestRunDeletesSafeDuplicates(t *testing.T) {
	api := newFakeAPI()
	cfg := testsupport.NewConfig(t)
	engine, store := newEngine(t, api, cfg)
	job, records := seedJob(t, store, api, 1)

	// A second remote copy of the same key appears.
	spec := choiceSpec(1)
	api.put("99", spec.Key, 2, spec.Points, canvas.SlugChoice, spec.PromptHTML)

	summary, err := engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Rounds[0].Duplicate != 1 || summary.Rounds[0].Deleted != 1 {
		t.Fatalf("unexpected first round: %+v", summary.Rounds[0])
	}
	if api.createCalls != 0 {
		t.Fatalf("duplicates must never trigger creates, got %d", api.createCalls)
	}
	if len(api.deleteCalls) != 1 || api.deleteCalls[0] != "99" {
		t.Fatalf("expected extra copy 99 deleted, got %v", api.deleteCalls)
	}
	if summary.Conflicts != 0 {
		t.Fatalf("expected no conflicts, got %d", summary.Conflicts)
	}

	refreshed, err := store.ItemRecords(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	rec := refreshed[0]
	if rec.Status != ledger.ItemStatusReconciled {
		t.Fatalf("expected reconciled record, got %s", rec.Status)
	}
	if rec.RemoteItemID != records[0].RemoteItemID {
		t.Fatalf("expected ledger copy to survive, got %s", rec.RemoteItemID)
	}
}

func TestRunKeepsDuplicatesWithSubmissions(t *testing.T) {
	api := newFakeAPI()
	api.hasSubmissions = true
	cfg := testsupport.NewConfig(t)
	engine, store := newEngine(t, api, cfg)
	job, _ := seedJob(t, store, api, 1)

	spec := choiceSpec(1)
	api.put("99", spec.Key, 2, spec.Points, canvas.SlugChoice, spec.PromptHTML)

	summary, err := engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(api.deleteCalls) != 0 {
		t.Fatalf("expected no deletes with submissions present, got %v", api.deleteCalls)
	}
	if summary.Conflicts != 1 {
		t.Fatalf("expected 1 conflict, got %d", summary.Conflicts)
	}

	refreshed, err := store.ItemRecords(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	rec := refreshed[0]
	if rec.Status != ledger.ItemStatusDuplicate {
		t.Fatalf("expected duplicate record, got %s", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "manual resolution") {
		t.Fatalf("expected conflict message, got %q", rec.ErrorMessage)
	}
}

func TestRunFlagsDivergenceWithoutRewriting(t *testing.T) {
	api := newFakeAPI()
	cfg := testsupport.NewConfig(t)
	engine, store := newEngine(t, api, cfg)
	job, records := seedJob(t, store, api, 1)

	// Remote copy drifted: different points.
	spec := choiceSpec(1)
	api.put(records[0].RemoteItemID, spec.Key, 1, 5, canvas.SlugChoice, spec.PromptHTML)

	summary, err := engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Rounds[0].Divergent != 1 {
		t.Fatalf("expected 1 divergent, got %+v", summary.Rounds[0])
	}
	if len(api.updateCalls) != 0 {
		t.Fatalf("normal runs must never rewrite, got %v", api.updateCalls)
	}
	if summary.Clean() {
		t.Fatal("expected divergence to mark the summary unclean")
	}

	refreshed, err := store.ItemRecords(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	rec := refreshed[0]
	if rec.Status != ledger.ItemStatusReconciled {
		t.Fatalf("expected reconciled record, got %s", rec.Status)
	}
	if !strings.Contains(rec.Divergence, "points") {
		t.Fatalf("expected points divergence note, got %q", rec.Divergence)
	}
}

func TestRepairRewritesDivergentItems(t *testing.T) {
	api := newFakeAPI()
	cfg := testsupport.NewConfig(t)
	engine, store := newEngine(t, api, cfg)
	job, records := seedJob(t, store, api, 1)

	spec := choiceSpec(1)
	api.put(records[0].RemoteItemID, spec.Key, 1, 5, canvas.SlugChoice, spec.PromptHTML)

	if _, err := engine.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	summary, err := engine.Repair(context.Background(), job, RepairOptions{UpdateDivergent: true})
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}
	if summary.Rounds[0].Updated != 1 {
		t.Fatalf("expected 1 update, got %+v", summary.Rounds[0])
	}
	if len(api.updateCalls) != 1 || api.updateCalls[0] != records[0].RemoteItemID {
		t.Fatalf("expected update of %s, got %v", records[0].RemoteItemID, api.updateCalls)
	}

	refreshed, err := store.ItemRecords(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	rec := refreshed[0]
	if rec.Status != ledger.ItemStatusReconciled {
		t.Fatalf("expected reconciled record, got %s", rec.Status)
	}
	if rec.Divergence != "" {
		t.Fatalf("expected cleared divergence, got %q", rec.Divergence)
	}
}

func TestRepairDeletesDuplicatesOnlyWithFlag(t *testing.T) {
	api := newFakeAPI()
	cfg := testsupport.NewConfig(t)
	engine, store := newEngine(t, api, cfg)
	job, records := seedJob(t, store, api, 1)

	if _, err := engine.Run(context.Background(), job); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// A duplicate appears after the run settled.
	spec := choiceSpec(1)
	api.put("99", spec.Key, 2, spec.Points, canvas.SlugChoice, spec.PromptHTML)

	summary, err := engine.Repair(context.Background(), job, RepairOptions{})
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}
	if len(api.deleteCalls) != 0 {
		t.Fatalf("expected no deletes without the flag, got %v", api.deleteCalls)
	}
	if summary.Conflicts != 1 {
		t.Fatalf("expected a conflict without the flag, got %d", summary.Conflicts)
	}

	summary, err = engine.Repair(context.Background(), job, RepairOptions{AllowDelete: true})
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}
	if len(api.deleteCalls) != 1 || api.deleteCalls[0] != "99" {
		t.Fatalf("expected deletion of 99, got %v", api.deleteCalls)
	}
	if summary.Conflicts != 0 {
		t.Fatalf("expected conflict resolved, got %d", summary.Conflicts)
	}

	refreshed, err := store.ItemRecords(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ItemRecords: %v", err)
	}
	if refreshed[0].Status != ledger.ItemStatusReconciled {
		t.Fatalf("expected reconciled record, got %s", refreshed[0].Status)
	}
	if refreshed[0].RemoteItemID != records[0].RemoteItemID {
		t.Fatalf("expected original copy kept, got %s", refreshed[0].RemoteItemID)
	}
}
