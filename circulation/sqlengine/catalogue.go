package sqlengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/openshelf/circulation-go/circulation"
)

// AddItem catalogues a new item. The available count always starts equal
// to the total count; callers cannot inject a different value.
func (e Engine) AddItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "add_item")

	stored, err := e.addItem(ctx, item)
	e.recordCommand("add_item", start, err)
	e.finishCommandSpan(span, err)

	return stored, err
}

func (e Engine) addItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error) {
	var empty circulation.CatalogueItem

	if item.Code == "" {
		return empty, circulation.ErrEmptyItemCode
	}

	if item.TotalCopies < 1 {
		return empty, circulation.ErrInvalidCopyCount
	}

	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return empty, txErr
	}
	defer func() { _ = tx.Rollback() }()

	exists, existsErr := e.itemExistsTx(ctx, tx, item.Code)
	if existsErr != nil {
		return empty, existsErr
	}

	if exists {
		return empty, circulation.ErrDuplicateItemCode
	}

	item.AvailableCopies = item.TotalCopies

	sqlQuery, _, toSQLErr := e.builder().
		Insert(e.itemsTable()).
		Rows(itemRecord(item)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return empty, toSQLErr
	}

	if _, execErr := e.execTx(ctx, tx, sqlQuery); execErr != nil {
		return empty, execErr
	}

	if journalErr := e.journalTx(ctx, tx, circulation.BuildItemAddedToCatalogue(item, e.now())); journalErr != nil {
		return empty, journalErr
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return empty, commitErr
	}

	e.logOperation(ctx, "item added", logAttrItemCode, item.Code)

	return item, nil
}

// UpdateItem replaces an item's descriptive metadata and, optionally, its
// total copy count. Lowering the total below the number of copies
// currently out on loan is refused. The available count is derived from
// the outstanding loans, never taken from the input.
func (e Engine) UpdateItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "update_item")

	stored, err := e.updateItem(ctx, item)
	e.recordCommand("update_item", start, err)
	e.finishCommandSpan(span, err)

	return stored, err
}

func (e Engine) updateItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error) {
	var empty circulation.CatalogueItem

	if item.TotalCopies < 1 {
		return empty, circulation.ErrInvalidCopyCount
	}

	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return empty, txErr
	}
	defer func() { _ = tx.Rollback() }()

	existing, getErr := e.getItemTx(ctx, tx, item.Code)
	if getErr != nil {
		return empty, getErr
	}

	outstanding := existing.TotalCopies - existing.AvailableCopies
	if item.TotalCopies < outstanding {
		return empty, circulation.ErrInvalidCopyCount
	}

	item.AvailableCopies = item.TotalCopies - outstanding

	record := itemRecord(item)
	delete(record, colCode)

	sqlQuery, _, toSQLErr := e.builder().
		Update(e.itemsTable()).
		Set(record).
		Where(goqu.C(colCode).Eq(item.Code)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return empty, toSQLErr
	}

	if _, execErr := e.execTx(ctx, tx, sqlQuery); execErr != nil {
		return empty, execErr
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return empty, commitErr
	}

	return item, nil
}

// RemoveItem deletes an item from the catalogue. Removal is refused while
// any loan against the item is still active.
func (e Engine) RemoveItem(ctx context.Context, code string) error {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "remove_item")

	err := e.removeItem(ctx, code)
	e.recordCommand("remove_item", start, err)
	e.finishCommandSpan(span, err)

	return err
}

func (e Engine) removeItem(ctx context.Context, code string) error {
	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return txErr
	}
	defer func() { _ = tx.Rollback() }()

	exists, existsErr := e.itemExistsTx(ctx, tx, code)
	if existsErr != nil {
		return existsErr
	}

	if !exists {
		return circulation.ErrItemNotFound
	}

	activeLoans, countErr := e.countActiveLoansTx(ctx, tx, goqu.C(colItemCode).Eq(code))
	if countErr != nil {
		return countErr
	}

	if activeLoans > 0 {
		return circulation.ErrItemHasActiveLoans
	}

	sqlQuery, _, toSQLErr := e.builder().
		Delete(e.itemsTable()).
		Where(goqu.C(colCode).Eq(code)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return toSQLErr
	}

	if _, execErr := e.execTx(ctx, tx, sqlQuery); execErr != nil {
		return execErr
	}

	if journalErr := e.journalTx(ctx, tx, circulation.BuildItemRemovedFromCatalogue(code, e.now())); journalErr != nil {
		return journalErr
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return commitErr
	}

	e.logOperation(ctx, "item removed", logAttrItemCode, code)

	return nil
}

// GetItem returns a single item by its exact code.
func (e Engine) GetItem(ctx context.Context, code string) (circulation.CatalogueItem, error) {
	items, queryErr := e.queryItems(ctx, e.db, e.selectItems().Where(goqu.C(colCode).Eq(code)))
	if queryErr != nil {
		return circulation.CatalogueItem{}, queryErr
	}

	if len(items) == 0 {
		return circulation.CatalogueItem{}, circulation.ErrItemNotFound
	}

	return items[0], nil
}

/***** internals *****/

func itemRecord(item circulation.CatalogueItem) goqu.Record {
	return goqu.Record{
		colCode:            item.Code,
		colTitle:           item.Title,
		colAuthor:          item.Author,
		colPublisher:       item.Publisher,
		colPublishDate:     item.PublishDate,
		colCategory:        item.Category,
		colPrice:           item.Price,
		colDescription:     item.Description,
		colTotalCopies:     item.TotalCopies,
		colAvailableCopies: item.AvailableCopies,
	}
}

func (e Engine) selectItems() *goqu.SelectDataset {
	return e.builder().
		From(e.itemsTable()).
		Select(colCode, colTitle, colAuthor, colPublisher, colPublishDate,
			colCategory, colPrice, colDescription, colTotalCopies, colAvailableCopies).
		Order(goqu.C(colCode).Asc())
}

func (e Engine) queryItems(ctx context.Context, q rowQuerier, dataset *goqu.SelectDataset) ([]circulation.CatalogueItem, error) {
	sqlQuery, _, toSQLErr := dataset.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return nil, toSQLErr
	}

	rows, queryErr := q.Query(ctx, sqlQuery)
	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return nil, queryErr
	}
	defer e.closeRows(rows)

	items := make([]circulation.CatalogueItem, 0)

	for rows.Next() {
		var item circulation.CatalogueItem

		scanErr := rows.Scan(
			&item.Code, &item.Title, &item.Author, &item.Publisher, &item.PublishDate,
			&item.Category, &item.Price, &item.Description, &item.TotalCopies, &item.AvailableCopies)
		if scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return nil, scanErr
		}

		items = append(items, item)
	}

	return items, nil
}

func (e Engine) getItemTx(ctx context.Context, tx rowQuerier, code string) (circulation.CatalogueItem, error) {
	items, queryErr := e.queryItems(ctx, tx, e.selectItems().Where(goqu.C(colCode).Eq(code)))
	if queryErr != nil {
		return circulation.CatalogueItem{}, queryErr
	}

	if len(items) == 0 {
		return circulation.CatalogueItem{}, circulation.ErrItemNotFound
	}

	return items[0], nil
}

func (e Engine) itemExistsTx(ctx context.Context, tx rowQuerier, code string) (bool, error) {
	_, getErr := e.getItemTx(ctx, tx, code)
	if getErr == nil {
		return true, nil
	}

	if errors.Is(getErr, circulation.ErrItemNotFound) {
		return false, nil
	}

	return false, getErr
}
