package db

import (
	"testing"
	"time"

	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
)

func TestInitCreatesSchema(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer database.Close()

	version, err := GetUserVersion(database)
	if err != nil {
		t.Fatal(err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInsertAndGetByID(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer database.Close()

	r := &Recipe{
		ID:        NewID(),
		SourceURL: "https://example.com/p/1",
		Caption:   "红烧肉",
		Markdown:  "## Title\nBraised pork",
		Model:     "gpt-5-mini",
		CreatedAt: time.Now().Unix(),
	}
	if err := Insert(database, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := GetByID(database, r.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SourceURL != r.SourceURL || got.Caption != r.Caption || got.Markdown != r.Markdown {
		t.Errorf("got %+v, want %+v", got, r)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer database.Close()

	_, err = GetByID(database, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want not-found", err)
	}
}

func TestListRecentNewestFirst(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer database.Close()

	base := time.Now().Unix()
	for i := 0; i < 3; i++ {
		r := &Recipe{
			ID:        NewID(),
			SourceURL: "https://example.com/p/1",
			Markdown:  "md",
			Model:     "gpt-4o",
			CreatedAt: base + int64(i),
		}
		if err := Insert(database, r); err != nil {
			t.Fatal(err)
		}
	}

	recipes, err := ListRecent(database, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recipes) != 2 {
		t.Fatalf("len = %d, want 2", len(recipes))
	}
	if recipes[0].CreatedAt < recipes[1].CreatedAt {
		t.Error("rows are not newest first")
	}
}

func TestDelete(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer database.Close()

	r := &Recipe{ID: NewID(), SourceURL: "u", Markdown: "md", Model: "m", CreatedAt: time.Now().Unix()}
	if err := Insert(database, r); err != nil {
		t.Fatal(err)
	}
	if err := Delete(database, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := Delete(database, r.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("second delete err = %v, want not-found", err)
	}
}

func TestNewIDsAreSortable(t *testing.T) {
	a := NewID()
	b := NewID()
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected ULID lengths: %q %q", a, b)
	}
	if a == b {
		t.Error("consecutive ids must differ")
	}
}
