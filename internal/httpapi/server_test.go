package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yearlist/internal/abort"
	"yearlist/internal/store"
)

type stubSessions struct {
	userID int64
	err    error
}

func (s *stubSessions) UserIDByToken(context.Context, string) (int64, error) {
	return s.userID, s.err
}

type stubService struct {
	create  func(ctx context.Context, userID int64, p store.CreateListParams) (*store.CreateListResult, error)
	reorder func(ctx context.Context, userID int64, listID string, order []store.ItemRef) (int64, error)
	setMain func(ctx context.Context, userID int64, listID string, isMain bool) (*store.MainStatusResult, error)
	get     func(ctx context.Context, userID int64, listID string) (*store.ListWithItems, error)
	setup   func(ctx context.Context, userID int64, dismissedUntil *time.Time) (*store.SetupStatus, error)
	comment func(ctx context.Context, userID int64, listID string, identifier int64, comment string) error
	bulk    func(ctx context.Context, userID int64, entries []store.BulkUpdateEntry) (*store.BulkUpdateResult, error)
}

func (s *stubService) Create(ctx context.Context, userID int64, p store.CreateListParams) (*store.CreateListResult, error) {
	if s.create != nil {
		return s.create(ctx, userID, p)
	}
	return &store.CreateListResult{}, nil
}

func (s *stubService) UpdateMetadata(context.Context, int64, string, store.UpdateListParams) error {
	return nil
}

func (s *stubService) ReplaceItems(context.Context, int64, string, []store.AlbumInput) (int, error) {
	return 0, nil
}

func (s *stubService) IncrementalUpdate(context.Context, int64, string, store.IncrementalUpdateParams) (*store.IncrementalUpdateResult, error) {
	return &store.IncrementalUpdateResult{}, nil
}

func (s *stubService) Reorder(ctx context.Context, userID int64, listID string, order []store.ItemRef) (int64, error) {
	if s.reorder != nil {
		return s.reorder(ctx, userID, listID, order)
	}
	return 0, nil
}

func (s *stubService) UpdateComment(ctx context.Context, userID int64, listID string, identifier int64, comment string) error {
	if s.comment != nil {
		return s.comment(ctx, userID, listID, identifier, comment)
	}
	return nil
}

func (s *stubService) SetMain(ctx context.Context, userID int64, listID string, isMain bool) (*store.MainStatusResult, error) {
	if s.setMain != nil {
		return s.setMain(ctx, userID, listID, isMain)
	}
	return &store.MainStatusResult{}, nil
}

func (s *stubService) Delete(context.Context, int64, string) error {
	return nil
}

func (s *stubService) SetupStatus(ctx context.Context, userID int64, dismissedUntil *time.Time) (*store.SetupStatus, error) {
	if s.setup != nil {
		return s.setup(ctx, userID, dismissedUntil)
	}
	return &store.SetupStatus{}, nil
}

func (s *stubService) BulkUpdate(ctx context.Context, userID int64, entries []store.BulkUpdateEntry) (*store.BulkUpdateResult, error) {
	if s.bulk != nil {
		return s.bulk(ctx, userID, entries)
	}
	return &store.BulkUpdateResult{}, nil
}

func (s *stubService) List(context.Context, int64) ([]store.ListSummary, error) {
	return []store.ListSummary{}, nil
}

func (s *stubService) Get(ctx context.Context, userID int64, listID string) (*store.ListWithItems, error) {
	if s.get != nil {
		return s.get(ctx, userID, listID)
	}
	return &store.ListWithItems{}, nil
}

func newTestServer(svc *stubService) http.Handler {
	return New(&stubSessions{userID: 42}, svc).Routes()
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler := newTestServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMissingBearerToken(t *testing.T) {
	handler := newTestServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lists", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInvalidToken(t *testing.T) {
	handler := New(&stubSessions{err: store.ErrUnauthorized}, &stubService{}).Routes()
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/lists", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateList(t *testing.T) {
	svc := &stubService{
		create: func(_ context.Context, userID int64, p store.CreateListParams) (*store.CreateListResult, error) {
			if userID != 42 {
				t.Fatalf("expected user 42, got %d", userID)
			}
			if p.Name != "Top 2024" || p.Year == nil || *p.Year != 2024 {
				t.Fatalf("unexpected params %+v", p)
			}
			year := 2024
			return &store.CreateListResult{PublicID: "pub-1", Year: &year, ItemCount: 1}, nil
		},
	}
	handler := newTestServer(svc)
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/lists",
		`{"name":"Top 2024","year":2024,"albums":[{"artist":"Charli XCX","title":"Brat"}]}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var result store.CreateListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.PublicID != "pub-1" || result.ItemCount != 1 {
		t.Fatalf("unexpected response %+v", result)
	}
}

func TestCreateListInvalidJSON(t *testing.T) {
	handler := newTestServer(&stubService{})
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/lists", `{"name":`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLockedYearMapsToForbidden(t *testing.T) {
	svc := &stubService{
		setMain: func(context.Context, int64, string, bool) (*store.MainStatusResult, error) {
			return nil, abort.Locked(2023, "change main list")
		},
	}
	handler := newTestServer(svc)
	rec := doRequest(t, handler, http.MethodPut, "/api/v1/lists/pub-1/main", `{"isMain":true}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Details["year"] != float64(2023) {
		t.Fatalf("expected year in details, got %v", body.Details)
	}
	if body.Details["action"] != "change main list" {
		t.Fatalf("expected action in details, got %v", body.Details)
	}
}

func TestReorderParsesMixedRefs(t *testing.T) {
	var got []store.ItemRef
	svc := &stubService{
		reorder: func(_ context.Context, _ int64, listID string, order []store.ItemRef) (int64, error) {
			if listID != "pub-1" {
				t.Fatalf("expected pub-1, got %s", listID)
			}
			got = order
			return int64(len(order)), nil
		},
	}
	handler := newTestServer(svc)
	rec := doRequest(t, handler, http.MethodPut, "/api/v1/lists/pub-1/order", `{"order":[5,{"itemId":9}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := []store.ItemRef{{AlbumID: 5}, {ItemID: 9}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestGetListNotFound(t *testing.T) {
	svc := &stubService{
		get: func(context.Context, int64, string) (*store.ListWithItems, error) {
			return nil, abort.NotFound("list not found")
		},
	}
	handler := newTestServer(svc)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/lists/missing", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUpdateCommentBadIdentifier(t *testing.T) {
	handler := newTestServer(&stubService{})
	rec := doRequest(t, handler, http.MethodPut, "/api/v1/lists/pub-1/items/abc/comment", `{"comment":"x"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateCommentRoutesIdentifier(t *testing.T) {
	var gotID int64
	var gotComment string
	svc := &stubService{
		comment: func(_ context.Context, _ int64, _ string, identifier int64, comment string) error {
			gotID = identifier
			gotComment = comment
			return nil
		},
	}
	handler := newTestServer(svc)
	rec := doRequest(t, handler, http.MethodPut, "/api/v1/lists/pub-1/items/9/comment", `{"comment":"a grower"}`)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if gotID != 9 || gotComment != "a grower" {
		t.Fatalf("got id %d comment %q", gotID, gotComment)
	}
}

func TestSetupStatusParsesDismissedUntil(t *testing.T) {
	var got *time.Time
	svc := &stubService{
		setup: func(_ context.Context, _ int64, dismissedUntil *time.Time) (*store.SetupStatus, error) {
			got = dismissedUntil
			return &store.SetupStatus{}, nil
		},
	}
	handler := newTestServer(svc)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/setup/status?dismissedUntil=2024-12-01T00:00:00Z", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || !got.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected parsed timestamp, got %v", got)
	}
}

func TestSetupStatusRejectsBadTimestamp(t *testing.T) {
	handler := newTestServer(&stubService{})
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/setup/status?dismissedUntil=yesterday", "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBulkUpdateReportsOutcomes(t *testing.T) {
	svc := &stubService{
		bulk: func(_ context.Context, _ int64, entries []store.BulkUpdateEntry) (*store.BulkUpdateResult, error) {
			if len(entries) != 2 {
				t.Fatalf("expected 2 entries, got %+v", entries)
			}
			return &store.BulkUpdateResult{
				Outcomes: []store.BulkUpdateOutcome{
					{ListPublicID: "pub-a", OK: true},
					{ListPublicID: "pub-b", OK: false, Error: "year 2023 is locked: cannot change main list", Status: 403},
				},
				YearsTouched: []int{2024},
			}, nil
		},
	}
	handler := newTestServer(svc)
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/lists/bulk",
		`{"updates":[{"listId":"pub-a","year":2024},{"listId":"pub-b","isMain":true}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result store.BulkUpdateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.Outcomes) != 2 || result.Outcomes[1].Status != 403 {
		t.Fatalf("unexpected outcomes %+v", result.Outcomes)
	}
}

func TestParseBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := parseBearerToken(tt.header); got != tt.want {
			t.Fatalf("parseBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
