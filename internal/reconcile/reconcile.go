// Package reconcile computes the delta between a persisted cart and the cart a
// request wants to save. The store applies the delta inside one transaction so
// the item set is never observed half-updated: rows are created, updated in
// place, or soft-deleted, never rewritten wholesale.
package reconcile

import (
	"reflect"
	"strings"

	"checkout-service/internal/model"
)

// ItemDiff describes the row mutations needed to reconcile cart items.
// Apply in order: Remove → Update → Create, so a key that moves between
// rows never collides with itself.
type ItemDiff struct {
	ToCreate []ItemToCreate
	ToUpdate []ItemToUpdate
	ToRemove []ItemToRemove
}

// ItemToCreate is a desired item with no existing row.
type ItemToCreate struct {
	Position int
	Item     model.CartItem
}

// ItemToUpdate is an existing row whose contents or position changed.
type ItemToUpdate struct {
	RowID    uint
	Position int
	Item     model.CartItem
}

// ItemToRemove is a row no longer in the cart.
type ItemToRemove struct {
	RowID uint
	Key   model.ItemKey // for logging
}

// IsEmpty returns true if no row changes are needed.
func (d *ItemDiff) IsEmpty() bool {
	return len(d.ToCreate) == 0 && len(d.ToUpdate) == 0 && len(d.ToRemove) == 0
}

// CurrentItem is a persisted item row.
type CurrentItem struct {
	RowID    uint
	Position int
	Item     model.CartItem
}

// DiffItems matches rows to desired items by (permalink, option). Position is
// the index in the desired slice, so reordering alone produces updates.
// Output follows the order of desired (creates, updates) and current (removes).
func DiffItems(current []CurrentItem, desired []model.CartItem) *ItemDiff {
	diff := &ItemDiff{}

	currentByKey := make(map[model.ItemKey]CurrentItem, len(current))
	for _, row := range current {
		currentByKey[row.Item.Key()] = row
	}

	desiredKeys := make(map[model.ItemKey]bool, len(desired))
	for pos, item := range desired {
		key := item.Key()
		desiredKeys[key] = true

		row, exists := currentByKey[key]
		if !exists {
			diff.ToCreate = append(diff.ToCreate, ItemToCreate{Position: pos, Item: item})
			continue
		}
		if row.Position != pos || !reflect.DeepEqual(row.Item, item) {
			diff.ToUpdate = append(diff.ToUpdate, ItemToUpdate{RowID: row.RowID, Position: pos, Item: item})
		}
	}

	for _, row := range current {
		if !desiredKeys[row.Item.Key()] {
			diff.ToRemove = append(diff.ToRemove, ItemToRemove{RowID: row.RowID, Key: row.Item.Key()})
		}
	}

	return diff
}

// DiscountDiff describes which discount codes a save applies and drops.
type DiscountDiff struct {
	Applied []string // in desired but not current
	Removed []string // in current but not desired
}

// IsEmpty returns true if the code set is unchanged.
func (d *DiscountDiff) IsEmpty() bool {
	return len(d.Applied) == 0 && len(d.Removed) == 0
}

// DiffDiscounts computes the case-insensitive set difference of two code lists.
func DiffDiscounts(current, desired []model.DiscountCode) *DiscountDiff {
	diff := &DiscountDiff{}

	currentSet := make(map[string]bool, len(current))
	for _, dc := range current {
		currentSet[strings.ToUpper(dc.Code)] = true
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, dc := range desired {
		desiredSet[strings.ToUpper(dc.Code)] = true
	}

	for _, dc := range desired {
		if !currentSet[strings.ToUpper(dc.Code)] {
			diff.Applied = append(diff.Applied, dc.Code)
		}
	}
	for _, dc := range current {
		if !desiredSet[strings.ToUpper(dc.Code)] {
			diff.Removed = append(diff.Removed, dc.Code)
		}
	}

	return diff
}
