package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/kv/badger"
	"github.com/autom8ter/foreach/store/kvstore"
	"github.com/brianvoe/gofakeit/v6"

	_ "embed"
)

var (
	//go:embed testdata/user.json
	UserSchema string
	// Tenants are the partition keys of generated users
	Tenants = []string{"acme", "globex", "initech"}
)

// NewUserDoc returns a fake user document partitioned by /tenant
func NewUserDoc() *foreach.Document {
	doc, err := foreach.NewDocumentFrom(map[string]any{
		"id":     gofakeit.UUID(),
		"tenant": gofakeit.RandomString(Tenants),
		"name":   gofakeit.Name(),
		"contact": map[string]any{
			"email": gofakeit.Email(),
		},
		"account_id": gofakeit.IntRange(0, 100),
		"language":   gofakeit.Language(),
		"age":        gofakeit.IntRange(0, 100),
	})
	if err != nil {
		panic(err)
	}
	return doc
}

// NewUserDocs returns n fake users with sortable ids user-0000, user-0001, ...
func NewUserDocs(n int) foreach.Documents {
	var docs foreach.Documents
	for i := 0; i < n; i++ {
		doc := NewUserDoc()
		if err := doc.Set(foreach.IDField, fmt.Sprintf("user-%04d", i)); err != nil {
			panic(err)
		}
		docs = append(docs, doc)
	}
	return docs
}

// NewContainer returns an in-memory badger container partitioned by /tenant and loaded with docs
func NewContainer(t testing.TB, docs foreach.Documents) *kvstore.Container {
	t.Helper()
	db, err := badger.New("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	c := kvstore.New(db, kvstore.Config{
		Container:        "users",
		PartitionKeyPath: "/tenant",
	})
	if err := c.Load(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
	return c
}

// IDs returns every id left in the container
func IDs(t testing.TB, c foreach.Container) []string {
	t.Helper()
	var (
		ids          []string
		continuation string
	)
	for {
		page, err := c.ReadPage(context.Background(), continuation, 100)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, page.Documents.IDs()...)
		if page.Continuation == "" {
			return ids
		}
		continuation = page.Continuation
	}
}
