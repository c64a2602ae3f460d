// Package domain maps named document types onto a store.Adapter.
//
// A type is declared by a [Schema]: a name and an ordered property list.
// [Define] turns it into a [Type] which provides
//
//   - an entity factory ([Type.New], [Type.Create])
//   - one view per property plus an "id" view, reconciled into the store's
//     design document "_design/<Name>"
//   - finders for every property and for the identity
//
// Basic usage:
//
//	users, err := domain.Define(ctx, adapter, domain.Schema{
//	    Name:       "TestUser",
//	    Properties: []string{"username", "firstName", "lastName"},
//	}, domain.WithIndexWait())
//
//	u := users.Create(store.Record{"username": "tester1"})
//	if _, err := u.Save(ctx); err != nil { ... }
//
//	found, err := users.FindBy(ctx, "username", "tester1")
//	same, _ := users.Finder("FindByUsername")
//	found, err = same.One(ctx, "tester1")
//
// Saves are guarded by the entity's revision: saving a stale copy fails
// with [ErrConflict] and leaves the copy's ID and Rev unchanged.
//
// View reconciliation runs in the background unless [WithIndexWait] is
// given. Use [Type.WaitIndexes] before querying a freshly changed view.
package domain
