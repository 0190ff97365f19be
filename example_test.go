package foreach_test

import (
	"context"
	"fmt"

	"github.com/autom8ter/foreach"
	_ "github.com/autom8ter/foreach/store/kvstore"
)

func ExampleRunner_RunAll() {
	ctx := context.Background()
	container, err := foreach.Open(ctx, "badger", map[string]any{
		"container":          "users",
		"partition_key_path": "/tenant",
	})
	if err != nil {
		panic(err)
	}
	defer container.Close(ctx)
	for i, tenant := range []string{"acme", "globex", "acme"} {
		doc, _ := foreach.NewDocumentFrom(map[string]any{"id": fmt.Sprint(i), "tenant": tenant, "v": 1})
		if err := container.UpsertItem(ctx, doc); err != nil {
			panic(err)
		}
	}
	runner, err := foreach.NewRunner(container, foreach.DefaultConfig())
	if err != nil {
		panic(err)
	}
	summary, err := runner.RunAll(ctx, foreach.TransformFunc(func(ctx context.Context, doc *foreach.Document, ops *foreach.Ops) error {
		if doc.GetString("tenant") == "globex" {
			ops.Delete(doc.PartitionKey("/tenant"))
			return nil
		}
		updated := doc.Clone()
		if err := updated.Set("v", 2); err != nil {
			return err
		}
		ops.Update(updated)
		return nil
	}))
	if err != nil {
		panic(err)
	}
	fmt.Println(summary.Processed, summary.Deleted, summary.Replaced, summary.Failed)
	// Output: 3 1 2 0
}
