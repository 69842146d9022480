package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/mock/gomock"

	"resource-rag/internal/storage"
	storage_mocks "resource-rag/internal/storage/mocks"
)

func TestResourcesHandler_List(t *testing.T) {
	ingested := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		name       string
		query      string
		mockSetup  func(*storage_mocks.MockDocumentStore)
		wantStatus int
		wantCount  int
	}{
		{
			name: "default limit",
			mockSetup: func(m *storage_mocks.MockDocumentStore) {
				m.EXPECT().ListRecent(gomock.Any(), storage.DefaultListLimit).Return([]storage.DocumentRecord{
					{ID: "b", SourceURL: "http://b", ChunkCount: 1, IngestedAt: ingested},
					{ID: "a", SourceURL: "http://a", ChunkCount: 2, IngestedAt: ingested},
				}, nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  2,
		},
		{
			name:  "limit capped",
			query: "?limit=1000",
			mockSetup: func(m *storage_mocks.MockDocumentStore) {
				m.EXPECT().ListRecent(gomock.Any(), maxListLimit).Return([]storage.DocumentRecord{}, nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  0,
		},
		{
			name:       "invalid limit",
			query:      "?limit=abc",
			mockSetup:  func(m *storage_mocks.MockDocumentStore) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "store failure",
			mockSetup: func(m *storage_mocks.MockDocumentStore) {
				m.EXPECT().ListRecent(gomock.Any(), gomock.Any()).Return(nil, errors.New("locked"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := storage_mocks.NewMockDocumentStore(ctrl)
			tt.mockSetup(store)

			w := httptest.NewRecorder()
			NewResourcesHandler(store).List(w, httptest.NewRequest(http.MethodGet, "/api/resources"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("List() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp ResourcesResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(resp.Resources) != tt.wantCount {
				t.Errorf("resources = %d, want %d", len(resp.Resources), tt.wantCount)
			}
			if resp.Resources == nil {
				t.Error("resources should encode as an empty array, not null")
			}
		})
	}
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestResourcesHandler_Get(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		mockSetup  func(*storage_mocks.MockDocumentStore)
		wantStatus int
	}{
		{
			name: "found",
			id:   "doc-1",
			mockSetup: func(m *storage_mocks.MockDocumentStore) {
				m.EXPECT().GetByID(gomock.Any(), "doc-1").
					Return(&storage.DocumentRecord{ID: "doc-1", SourceURL: "http://a", RawText: "hello"}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "not found",
			id:   "missing",
			mockSetup: func(m *storage_mocks.MockDocumentStore) {
				m.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, storage.ErrNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "store failure",
			id:   "doc-1",
			mockSetup: func(m *storage_mocks.MockDocumentStore) {
				m.EXPECT().GetByID(gomock.Any(), "doc-1").Return(nil, errors.New("io error"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := storage_mocks.NewMockDocumentStore(ctrl)
			tt.mockSetup(store)

			req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/resources/"+tt.id, nil), "id", tt.id)
			w := httptest.NewRecorder()
			NewResourcesHandler(store).Get(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Get() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp ResourceSummary
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.ID != "doc-1" || resp.Text != "hello" {
				t.Errorf("Get() = %+v", resp)
			}
		})
	}
}
