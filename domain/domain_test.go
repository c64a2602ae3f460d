package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cocodrino/couch-ar/domain"
	"github.com/cocodrino/couch-ar/store"
	"github.com/cocodrino/couch-ar/store/memstore"
)

func newAdapter(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New(store.IDSchemeUUID)
	if err := s.Create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func defineTestUser(t *testing.T, adapter store.Adapter, opts ...domain.Option) *domain.Type {
	t.Helper()
	opts = append(opts, domain.WithIndexWait())
	typ, err := domain.Define(context.Background(), adapter, domain.Schema{
		Name:       "TestUser",
		Properties: []string{"username", "firstName", "lastName"},
	}, opts...)
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	return typ
}

// TestUserScenario walks the create, update, find and remove cycle.
func TestUserScenario(t *testing.T) {
	ctx := context.Background()
	users := defineTestUser(t, newAdapter(t))

	u := users.Create(store.Record{"username": "tester1", "firstName": "Test", "lastName": "Tester"})
	if _, err := u.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if u.ID == "" || u.Rev == "" {
		t.Fatalf("expected id and rev, got %q / %q", u.ID, u.Rev)
	}

	firstRev := u.Rev
	u.Set("username", "tester")
	if _, err := u.Save(ctx); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if u.Rev == firstRev {
		t.Error("expected rev to change")
	}

	found, err := users.FindBy(ctx, "username", "tester")
	if err != nil {
		t.Fatalf("find by username: %v", err)
	}
	if found.Get("username") != "tester" {
		t.Errorf("expected username 'tester', got %v", found.Get("username"))
	}
	if found.ID != u.ID || found.Rev != u.Rev {
		t.Errorf("expected %s/%s, got %s/%s", u.ID, u.Rev, found.ID, found.Rev)
	}

	all, err := users.FindAllBy(ctx, "username", "tester")
	if err != nil {
		t.Fatalf("find all by username: %v", err)
	}
	for _, e := range all {
		resp, err := e.Remove(ctx)
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		if !resp.OK {
			t.Error("expected OK removal")
		}
	}

	listed, err := users.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, e := range listed {
		if e.Get("username") == "tester" {
			t.Errorf("expected removed entity to be gone, found %s", e.ID)
		}
	}
}

func TestCreate(t *testing.T) {
	users := defineTestUser(t, newAdapter(t), domain.WithoutIndexSync())

	tests := []struct {
		name        string
		rec         store.Record
		expectedID  string
		expectedRev string
	}{
		{
			name:        "empty record",
			rec:         store.Record{},
			expectedID:  "",
			expectedRev: "",
		},
		{
			name:        "store identity",
			rec:         store.Record{"_id": "a", "_rev": "1-x", "username": "u"},
			expectedID:  "a",
			expectedRev: "1-x",
		},
		{
			name:        "explicit id wins",
			rec:         store.Record{"id": "b", "rev": "2-y", "_id": "a", "_rev": "1-x"},
			expectedID:  "b",
			expectedRev: "2-y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := users.Create(tt.rec)
			if e.ID != tt.expectedID || e.Rev != tt.expectedRev {
				t.Errorf("expected %q/%q, got %q/%q", tt.expectedID, tt.expectedRev, e.ID, e.Rev)
			}
		})
	}

	e := users.Create(store.Record{
		"username":    "u",
		"nickname":    "passes through",
		"dateCreated": "2024-01-02T03:04:05.123456789Z",
		"type":        "Ignored",
	})
	if e.Get("username") != "u" || e.Get("nickname") != "passes through" {
		t.Errorf("expected fields to be copied verbatim, got %v", e.Fields())
	}
	if _, ok := e.Lookup("type"); ok {
		t.Error("expected type to be dropped")
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	if !e.DateCreated.Equal(want) {
		t.Errorf("expected dateCreated %v, got %v", want, e.DateCreated)
	}
	if e.Type() != users {
		t.Error("expected entity to reference its type")
	}
}

func TestSerialize(t *testing.T) {
	users := defineTestUser(t, newAdapter(t), domain.WithoutIndexSync())

	e := users.New()
	rec := e.Serialize()
	if len(rec) != 1 || rec["type"] != "TestUser" {
		t.Errorf("expected only the type discriminator, got %v", rec)
	}

	e.Set("username", "u")
	e.Set("nickname", "not declared")
	e.ID, e.Rev = "a", "1-x"
	e.DateCreated = time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))

	rec = e.Serialize()
	if rec["username"] != "u" {
		t.Errorf("expected username, got %v", rec["username"])
	}
	if _, ok := rec["nickname"]; ok {
		t.Error("expected undeclared field to be left out")
	}
	if rec["_id"] != "a" || rec["_rev"] != "1-x" {
		t.Errorf("expected store identity, got %v / %v", rec["_id"], rec["_rev"])
	}
	if rec["dateCreated"] != "2024-01-02T02:04:05Z" {
		t.Errorf("expected UTC dateCreated, got %v", rec["dateCreated"])
	}
	if _, ok := rec["lastUpdated"]; ok {
		t.Error("expected unset lastUpdated to be left out")
	}
}

func TestSave_Timestamps(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	users := defineTestUser(t, newAdapter(t), domain.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	e := users.Create(store.Record{"username": "u"})
	if _, err := e.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	created, updated := e.DateCreated, e.LastUpdated
	if created.IsZero() || !created.Equal(updated) {
		t.Fatalf("expected dateCreated == lastUpdated on first save, got %v / %v", created, updated)
	}

	if _, err := e.Save(ctx); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if !e.DateCreated.Equal(created) {
		t.Errorf("expected dateCreated unchanged, got %v", e.DateCreated)
	}
	if !e.LastUpdated.After(updated) {
		t.Errorf("expected lastUpdated to advance, got %v", e.LastUpdated)
	}
}

func TestSave_StaleCopyConflicts(t *testing.T) {
	ctx := context.Background()
	users := defineTestUser(t, newAdapter(t))

	e := users.Create(store.Record{"username": "original"})
	if _, err := e.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	a := users.Create(e.Serialize())
	b := users.Create(e.Serialize())

	a.Set("username", "first")
	if _, err := a.Save(ctx); err != nil {
		t.Fatalf("save a: %v", err)
	}

	staleID, staleRev := b.ID, b.Rev
	b.Set("username", "second")
	resp, err := b.Save(ctx)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if resp.OK {
		t.Error("expected non-OK response")
	}
	if b.ID != staleID || b.Rev != staleRev {
		t.Errorf("expected id/rev unchanged, got %s/%s", b.ID, b.Rev)
	}

	stored, err := users.FindBy(ctx, "id", e.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if stored.Get("username") != "first" {
		t.Errorf("expected stored username 'first', got %v", stored.Get("username"))
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	users := defineTestUser(t, newAdapter(t))

	e := users.Create(store.Record{"username": "u"})
	if _, err := e.Remove(ctx); !errors.Is(err, domain.ErrNotPersisted) {
		t.Errorf("expected ErrNotPersisted, got %v", err)
	}

	if _, err := e.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	oldID := e.ID

	stale := users.Create(e.Serialize())
	if _, err := e.Save(ctx); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, err := stale.Remove(ctx); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict for stale remove, got %v", err)
	}
	if stale.ID != oldID {
		t.Error("expected id unchanged after failed remove")
	}

	if _, err := e.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if e.Persisted() || e.Rev != "" {
		t.Errorf("expected id and rev cleared, got %q / %q", e.ID, e.Rev)
	}
	if e.Get("username") != "u" {
		t.Error("expected fields to survive removal")
	}

	// Saving again creates a new document
	if _, err := e.Save(ctx); err != nil {
		t.Fatalf("save after remove: %v", err)
	}
	if e.ID == "" || e.ID == oldID {
		t.Errorf("expected a fresh id, got %q", e.ID)
	}
}

func TestHook(t *testing.T) {
	ctx := context.Background()
	people, err := domain.Define(ctx, newAdapter(t), domain.Schema{
		Name:       "Person",
		Properties: []string{"firstName", "lastName", "fullName"},
		Hook: domain.HookFunc(func(e *domain.Entity) {
			first, _ := e.Get("firstName").(string)
			last, _ := e.Get("lastName").(string)
			e.Set("fullName", first+" "+last)
		}),
	}, domain.WithIndexWait())
	if err != nil {
		t.Fatalf("define: %v", err)
	}

	p := people.Create(store.Record{"firstName": "Test", "lastName": "Tester"})
	if _, err := p.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	found, err := people.FindBy(ctx, "fullName", "Test Tester")
	if err != nil {
		t.Fatalf("find by fullName: %v", err)
	}
	if found.ID != p.ID {
		t.Errorf("expected %s, got %s", p.ID, found.ID)
	}
}

func TestFinders(t *testing.T) {
	ctx := context.Background()
	users := defineTestUser(t, newAdapter(t))

	for _, name := range []string{"b", "a", "b"} {
		if _, err := users.Create(store.Record{"username": name}).Save(ctx); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	ops := map[string]string{}
	for _, f := range users.Finders() {
		ops[f.OneName] = f.AllName
	}
	expected := map[string]string{
		"FindByUsername":  "FindAllByUsername",
		"FindByFirstName": "FindAllByFirstName",
		"FindByLastName":  "FindAllByLastName",
		"FindByID":        "FindAllByID",
	}
	for one, all := range expected {
		if ops[one] != all {
			t.Errorf("expected %s paired with %s, got %q", one, all, ops[one])
		}
	}

	f, ok := users.Finder("FindAllByUsername")
	if !ok {
		t.Fatal("expected FindAllByUsername")
	}
	bs, err := f.All(ctx, "b")
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(bs) != 2 {
		t.Errorf("expected 2 matches, got %d", len(bs))
	}

	if _, err := users.FindBy(ctx, "username", "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	none, err := users.FindAllBy(ctx, "username", "nobody")
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty result, got %v, %v", none, err)
	}
	if _, err := users.FindAllBy(ctx, "email", "x"); !errors.Is(err, domain.ErrUnknownProperty) {
		t.Errorf("expected ErrUnknownProperty, got %v", err)
	}

	listed, err := users.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("expected 3 entities, got %d", len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i-1].ID > listed[i].ID {
			t.Errorf("expected list ordered by id")
		}
	}

	byID, err := users.FindBy(ctx, "id", listed[0].ID)
	if err != nil || byID.ID != listed[0].ID {
		t.Errorf("expected find by id to return %s, got %v, %v", listed[0].ID, byID, err)
	}
}

type failingQuery struct {
	store.Adapter
	err error
}

func (f failingQuery) Query(context.Context, store.Query) ([]store.Record, error) {
	return nil, f.err
}

func TestFinders_SurfaceQueryErrors(t *testing.T) {
	boom := errors.New("boom")
	users := defineTestUser(t, failingQuery{Adapter: newAdapter(t), err: boom})

	if _, err := users.FindAllBy(context.Background(), "username", "x"); !errors.Is(err, boom) {
		t.Errorf("expected query error, got %v", err)
	}
	if _, err := users.List(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected query error, got %v", err)
	}
}

func TestDefine_ReplacesViews(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t)

	if _, err := domain.Define(ctx, adapter, domain.Schema{
		Name:       "Item",
		Properties: []string{"sku", "color"},
	}, domain.WithIndexWait()); err != nil {
		t.Fatalf("define: %v", err)
	}
	items, err := domain.Define(ctx, adapter, domain.Schema{
		Name:       "Item",
		Properties: []string{"sku"},
	}, domain.WithIndexWait())
	if err != nil {
		t.Fatalf("redefine: %v", err)
	}

	rec, err := adapter.Get(ctx, store.DesignID("Item"))
	if err != nil {
		t.Fatalf("get design: %v", err)
	}
	d, err := store.ParseDesign(rec)
	if err != nil {
		t.Fatalf("parse design: %v", err)
	}
	if _, ok := d.Views["color"]; ok {
		t.Error("expected stale view to be dropped")
	}
	if len(d.Views) != len(items.Views().Views) {
		t.Errorf("expected %d views, got %d", len(items.Views().Views), len(d.Views))
	}

	if _, err := adapter.Query(ctx, store.Query{Design: "Item", View: "color"}); !errors.Is(err, store.ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestDefine_WaitReportsSyncError(t *testing.T) {
	// The database was never created
	adapter := memstore.New(store.IDSchemeUUID)

	_, err := domain.Define(context.Background(), adapter, domain.Schema{Name: "T"}, domain.WithIndexWait())
	if !errors.Is(err, store.ErrDatabaseMissing) {
		t.Errorf("expected ErrDatabaseMissing, got %v", err)
	}

	typ, err := domain.Define(context.Background(), adapter, domain.Schema{Name: "T"})
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := typ.WaitIndexes(context.Background()); !errors.Is(err, store.ErrDatabaseMissing) {
		t.Errorf("expected ErrDatabaseMissing from WaitIndexes, got %v", err)
	}
}

func TestDefine_InvalidSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema domain.Schema
	}{
		{"empty name", domain.Schema{Name: " "}},
		{"slash in name", domain.Schema{Name: "a/b"}},
		{"empty property", domain.Schema{Name: "T", Properties: []string{""}}},
		{"duplicate property", domain.Schema{Name: "T", Properties: []string{"a", "a"}}},
		{"case collision", domain.Schema{Name: "T", Properties: []string{"name", "Name"}}},
		{"collides with identity finder", domain.Schema{Name: "T", Properties: []string{"iD"}}},
		{"reserved id", domain.Schema{Name: "T", Properties: []string{"id"}}},
		{"reserved type", domain.Schema{Name: "T", Properties: []string{"type"}}},
		{"reserved timestamp", domain.Schema{Name: "T", Properties: []string{"dateCreated"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.Define(context.Background(), newAdapter(t), tt.schema, domain.WithoutIndexSync())
			if !errors.Is(err, domain.ErrInvalidSchema) {
				t.Errorf("expected ErrInvalidSchema, got %v", err)
			}
		})
	}
}

func TestWaitIndexes_ContextCanceled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	adapter := blockingGet{Adapter: newAdapter(t), block: block}

	typ, err := domain.Define(context.Background(), adapter, domain.Schema{Name: "T"})
	if err != nil {
		t.Fatalf("define: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := typ.WaitIndexes(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

type blockingGet struct {
	store.Adapter
	block chan struct{}
}

func (b blockingGet) Get(ctx context.Context, key string) (store.Record, error) {
	<-b.block
	return b.Adapter.Get(ctx, key)
}

func TestOperationName(t *testing.T) {
	tests := []struct {
		prefix, property, expected string
	}{
		{domain.PrefixFindBy, "username", "FindByUsername"},
		{domain.PrefixFindAllBy, "firstName", "FindAllByFirstName"},
		{domain.PrefixFindBy, "émail", "FindByÉmail"},
		{domain.PrefixFindBy, "", "FindBy"},
	}

	for _, tt := range tests {
		if got := domain.OperationName(tt.prefix, tt.property); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}

func TestRegistry(t *testing.T) {
	adapter := newAdapter(t)
	r := domain.NewRegistry()

	b, _ := domain.Define(context.Background(), adapter, domain.Schema{Name: "B"}, domain.WithoutIndexSync())
	a, _ := domain.Define(context.Background(), adapter, domain.Schema{Name: "A"}, domain.WithoutIndexSync())
	a2, _ := domain.Define(context.Background(), adapter, domain.Schema{Name: "A", Properties: []string{"x"}}, domain.WithoutIndexSync())

	r.Register(b)
	r.Register(a)
	r.Register(a2)

	if r.Len() != 2 {
		t.Errorf("expected 2 types, got %d", r.Len())
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "A" || names[1] != "B" {
		t.Errorf("expected [A B], got %v", names)
	}
	if got, ok := r.Lookup("A"); !ok || got != a2 {
		t.Error("expected re-registration to replace the earlier type")
	}
	if _, ok := r.Lookup("C"); ok {
		t.Error("expected C to be missing")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected MustLookup to panic")
		}
	}()
	r.MustLookup("C")
}
