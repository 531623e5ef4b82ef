package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/openkb/knowbase/internal/storage"
)

type fakeStore struct {
	nextID  int64
	rows    map[int64]storage.Library
	deleted []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]storage.Library)}
}

func (f *fakeStore) CreateLibrary(lib storage.Library) (storage.Library, error) {
	f.nextID++
	lib.ID = f.nextID
	f.rows[lib.ID] = lib
	return lib, nil
}

func (f *fakeStore) SetLibraryCollectionID(id int64, collectionID string) error {
	lib := f.rows[id]
	lib.CollectionID = collectionID
	f.rows[id] = lib
	return nil
}

func (f *fakeStore) GetLibrary(id int64, userID string) (storage.Library, error) {
	lib, ok := f.rows[id]
	if !ok || lib.UserID != userID {
		return storage.Library{}, storage.ErrNotFound
	}
	return lib, nil
}

func (f *fakeStore) ListLibraries(userID string) ([]storage.Library, error) {
	var out []storage.Library
	for _, lib := range f.rows {
		if lib.UserID == userID {
			out = append(out, lib)
		}
	}
	return out, nil
}

func (f *fakeStore) TitleExists(userID, title string, excludeID int64) (bool, error) {
	for _, lib := range f.rows {
		if lib.UserID == userID && lib.Title == title && lib.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UpdateLibrary(id int64, userID string, title, description *string) (storage.Library, error) {
	lib, ok := f.rows[id]
	if !ok || lib.UserID != userID {
		return storage.Library{}, storage.ErrNotFound
	}
	if title != nil {
		lib.Title = *title
	}
	if description != nil {
		lib.Description = *description
	}
	f.rows[id] = lib
	return lib, nil
}

func (f *fakeStore) DeleteLibrary(id int64) error {
	lib, ok := f.rows[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(f.rows, id)
	f.deleted = append(f.deleted, lib.ID)
	return nil
}

type fakeIngestor struct {
	torn []string
	err  error
}

func (f *fakeIngestor) DeleteLibraryData(ctx context.Context, library storage.Library) error {
	if f.err != nil {
		return f.err
	}
	f.torn = append(f.torn, library.CollectionID)
	return nil
}

type fakeEvictor struct {
	removed []string
}

func (f *fakeEvictor) Remove(collectionID string) {
	f.removed = append(f.removed, collectionID)
}

type fakeJobs struct {
	cleared []string
}

func (f *fakeJobs) Clear(ctx context.Context, collectionID string) error {
	f.cleared = append(f.cleared, collectionID)
	return nil
}

type deps struct {
	store   *fakeStore
	ingest  *fakeIngestor
	evictor *fakeEvictor
	jobs    *fakeJobs
}

func newTestService() (*Service, deps) {
	d := deps{
		store:   newFakeStore(),
		ingest:  &fakeIngestor{},
		evictor: &fakeEvictor{},
		jobs:    &fakeJobs{},
	}
	svc := New(d.store, d.ingest, d.evictor, d.jobs,
		slog.New(slog.NewTextHandler(new(strings.Builder), nil)))
	svc.nowUnix = func() int64 { return 1717243200000 }
	return svc, d
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService()

	lib, err := svc.Create(context.Background(), CreateRequest{
		UserID: "u1", Title: "Docs", Description: "product docs",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if lib.ID == 0 {
		t.Error("library has no id")
	}
	want := fmt.Sprintf("kb%d_1717243200000", lib.ID)
	if lib.CollectionID != want {
		t.Errorf("collection id = %q, want %q", lib.CollectionID, want)
	}
	if !regexp.MustCompile(`^kb\d+_\d+$`).MatchString(lib.CollectionID) {
		t.Errorf("collection id %q has the wrong shape", lib.CollectionID)
	}
}

func TestCreate_DuplicateTitle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{UserID: "u1", Title: "Docs"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, CreateRequest{UserID: "u1", Title: "Docs"}); !errors.Is(err, ErrTitleExists) {
		t.Fatalf("error = %v, want ErrTitleExists", err)
	}

	// Same title under another user is fine.
	if _, err := svc.Create(ctx, CreateRequest{UserID: "u2", Title: "Docs"}); err != nil {
		t.Fatalf("Create for second user: %v", err)
	}
}

func TestGet_Ownership(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lib, err := svc.Create(ctx, CreateRequest{UserID: "u1", Title: "Docs"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Get(lib.ID, "u2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-user Get error = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lib, _ := svc.Create(ctx, CreateRequest{UserID: "u1", Title: "Docs"})
	other, _ := svc.Create(ctx, CreateRequest{UserID: "u1", Title: "Wiki"})

	title := "Manuals"
	got, err := svc.Update(lib.ID, "u1", &title, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "Manuals" {
		t.Errorf("title = %q", got.Title)
	}

	// Renaming onto another library's title is refused.
	clash := "Wiki"
	if _, err := svc.Update(lib.ID, "u1", &clash, nil); !errors.Is(err, ErrTitleExists) {
		t.Errorf("error = %v, want ErrTitleExists", err)
	}

	// Re-saving a library's own title is not a clash.
	keep := "Wiki"
	if _, err := svc.Update(other.ID, "u1", &keep, nil); err != nil {
		t.Errorf("self-title Update: %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, d := newTestService()
	ctx := context.Background()

	lib, _ := svc.Create(ctx, CreateRequest{UserID: "u1", Title: "Docs"})

	if err := svc.Delete(ctx, lib.ID, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(d.ingest.torn) != 1 || d.ingest.torn[0] != lib.CollectionID {
		t.Errorf("torn down = %v", d.ingest.torn)
	}
	if len(d.evictor.removed) != 1 || d.evictor.removed[0] != lib.CollectionID {
		t.Errorf("evicted = %v", d.evictor.removed)
	}
	if len(d.jobs.cleared) != 1 || d.jobs.cleared[0] != lib.CollectionID {
		t.Errorf("cleared jobs = %v", d.jobs.cleared)
	}
	if _, err := svc.Get(lib.ID, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("library still readable after Delete")
	}
}

func TestDelete_IndexTeardownFailureKeepsLibrary(t *testing.T) {
	svc, d := newTestService()
	ctx := context.Background()

	lib, _ := svc.Create(ctx, CreateRequest{UserID: "u1", Title: "Docs"})
	d.ingest.err = fmt.Errorf("vector store unreachable")

	if err := svc.Delete(ctx, lib.ID, "u1"); err == nil {
		t.Fatal("expected teardown error")
	}
	if _, err := svc.Get(lib.ID, "u1"); err != nil {
		t.Error("library disappeared despite failed teardown")
	}
	if len(d.evictor.removed) != 0 {
		t.Error("runtime evicted despite failed teardown")
	}
}

func TestDelete_CrossUser(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lib, _ := svc.Create(ctx, CreateRequest{UserID: "u1", Title: "Docs"})
	if err := svc.Delete(ctx, lib.ID, "u2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cross-user Delete error = %v, want ErrNotFound", err)
	}
}
