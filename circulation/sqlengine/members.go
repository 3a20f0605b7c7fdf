package sqlengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/openshelf/circulation-go/circulation"
)

// RegisterMember adds a new member. An empty standing defaults to normal.
func (e Engine) RegisterMember(ctx context.Context, member circulation.Member) (circulation.Member, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "register_member")

	stored, err := e.registerMember(ctx, member)
	e.recordCommand("register_member", start, err)
	e.finishCommandSpan(span, err)

	return stored, err
}

func (e Engine) registerMember(ctx context.Context, member circulation.Member) (circulation.Member, error) {
	var empty circulation.Member

	if member.Code == "" {
		return empty, circulation.ErrEmptyMemberCode
	}

	if member.Standing == "" {
		member.Standing = circulation.StandingNormal
	}

	if member.Standing != circulation.StandingNormal && member.Standing != circulation.StandingSuspended {
		return empty, circulation.ErrInvalidStanding
	}

	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return empty, txErr
	}
	defer func() { _ = tx.Rollback() }()

	exists, existsErr := e.memberExistsTx(ctx, tx, member.Code)
	if existsErr != nil {
		return empty, existsErr
	}

	if exists {
		return empty, circulation.ErrDuplicateMemberCode
	}

	sqlQuery, _, toSQLErr := e.builder().
		Insert(e.membersTable()).
		Rows(memberRecord(member)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return empty, toSQLErr
	}

	if _, execErr := e.execTx(ctx, tx, sqlQuery); execErr != nil {
		return empty, execErr
	}

	if journalErr := e.journalTx(ctx, tx, circulation.BuildMemberRegistered(member, e.now())); journalErr != nil {
		return empty, journalErr
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return empty, commitErr
	}

	e.logOperation(ctx, "member registered", logAttrMemberCode, member.Code)

	return member, nil
}

// SetMemberStanding changes a member's standing (normal/suspended).
func (e Engine) SetMemberStanding(ctx context.Context, code string, standing circulation.Standing) error {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "set_member_standing")

	err := e.setMemberStanding(ctx, code, standing)
	e.recordCommand("set_member_standing", start, err)
	e.finishCommandSpan(span, err)

	return err
}

func (e Engine) setMemberStanding(ctx context.Context, code string, standing circulation.Standing) error {
	if standing != circulation.StandingNormal && standing != circulation.StandingSuspended {
		return circulation.ErrInvalidStanding
	}

	sqlQuery, _, toSQLErr := e.builder().
		Update(e.membersTable()).
		Set(goqu.Record{colStanding: string(standing)}).
		Where(goqu.C(colCode).Eq(code)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return toSQLErr
	}

	result, execErr := e.db.Exec(ctx, sqlQuery)
	if execErr != nil {
		e.logError(logMsgDBExecFailed, execErr)
		return execErr
	}

	affected, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		e.logError(logMsgRowsAffectedFailed, affectedErr)
		return affectedErr
	}

	if affected == 0 {
		return circulation.ErrMemberNotFound
	}

	return nil
}

// RemoveMember deletes a member. Removal is refused while the member has
// any active loan.
func (e Engine) RemoveMember(ctx context.Context, code string) error {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "remove_member")

	err := e.removeMember(ctx, code)
	e.recordCommand("remove_member", start, err)
	e.finishCommandSpan(span, err)

	return err
}

func (e Engine) removeMember(ctx context.Context, code string) error {
	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return txErr
	}
	defer func() { _ = tx.Rollback() }()

	exists, existsErr := e.memberExistsTx(ctx, tx, code)
	if existsErr != nil {
		return existsErr
	}

	if !exists {
		return circulation.ErrMemberNotFound
	}

	activeLoans, countErr := e.countActiveLoansTx(ctx, tx, goqu.C(colMemberCode).Eq(code))
	if countErr != nil {
		return countErr
	}

	if activeLoans > 0 {
		return circulation.ErrMemberHasActiveLoans
	}

	sqlQuery, _, toSQLErr := e.builder().
		Delete(e.membersTable()).
		Where(goqu.C(colCode).Eq(code)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return toSQLErr
	}

	if _, execErr := e.execTx(ctx, tx, sqlQuery); execErr != nil {
		return execErr
	}

	if journalErr := e.journalTx(ctx, tx, circulation.BuildMemberRemoved(code, e.now())); journalErr != nil {
		return journalErr
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return commitErr
	}

	e.logOperation(ctx, "member removed", logAttrMemberCode, code)

	return nil
}

// GetMember returns a single member by their exact code.
func (e Engine) GetMember(ctx context.Context, code string) (circulation.Member, error) {
	return e.getMemberTx(ctx, e.db, code)
}

/***** internals *****/

func memberRecord(member circulation.Member) goqu.Record {
	return goqu.Record{
		colCode:         member.Code,
		colName:         member.Name,
		colGender:       member.Gender,
		colPhone:        member.Phone,
		colEmail:        member.Email,
		colAddress:      member.Address,
		colRegisteredOn: formatNullableDate(member.RegisteredOn),
		colStanding:     string(member.Standing),
	}
}

func (e Engine) selectMembers() *goqu.SelectDataset {
	return e.builder().
		From(e.membersTable()).
		Select(colCode, colName, colGender, colPhone, colEmail,
			colAddress, colRegisteredOn, colStanding).
		Order(goqu.C(colCode).Asc())
}

func (e Engine) queryMembers(ctx context.Context, q rowQuerier, dataset *goqu.SelectDataset) ([]circulation.Member, error) {
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

	members := make([]circulation.Member, 0)

	for rows.Next() {
		var member circulation.Member
		var registeredOn, standing string

		scanErr := rows.Scan(
			&member.Code, &member.Name, &member.Gender, &member.Phone, &member.Email,
			&member.Address, &registeredOn, &standing)
		if scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return nil, scanErr
		}

		parsed, parseErr := parseNullableDate(registeredOn)
		if parseErr != nil {
			e.logError(logMsgScanRowFailed, parseErr)
			return nil, parseErr
		}

		member.RegisteredOn = parsed
		member.Standing = circulation.Standing(standing)
		members = append(members, member)
	}

	return members, nil
}

func (e Engine) getMemberTx(ctx context.Context, tx rowQuerier, code string) (circulation.Member, error) {
	members, queryErr := e.queryMembers(ctx, tx, e.selectMembers().Where(goqu.C(colCode).Eq(code)))
	if queryErr != nil {
		return circulation.Member{}, queryErr
	}

	if len(members) == 0 {
		return circulation.Member{}, circulation.ErrMemberNotFound
	}

	return members[0], nil
}

func (e Engine) memberExistsTx(ctx context.Context, tx rowQuerier, code string) (bool, error) {
	_, getErr := e.getMemberTx(ctx, tx, code)
	if getErr == nil {
		return true, nil
	}

	if errors.Is(getErr, circulation.ErrMemberNotFound) {
		return false, nil
	}

	return false, getErr
}
